package runtime

import (
	"os"
	"os/exec"
	"strings"
	"testing"
)

// The default abort exits the process; exercised in a subprocess so the
// test binary survives.
func TestDefaultAbortExitsProcess(t *testing.T) {
	if os.Getenv("SCRIPT_RUNTIME_ABORT_CHILD") == "1" {
		in, err := New(WithAllocLimit(16))
		if err != nil {
			os.Exit(99)
		}
		defer in.Close()
		_ = in.Run(`x = "well past a sixteen byte budget" .. "and then some more"`, "chunk")
		os.Exit(0) // not reached: the abort exits first
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestDefaultAbortExitsProcess")
	cmd.Env = append(os.Environ(), "SCRIPT_RUNTIME_ABORT_CHILD=1")
	out, err := cmd.CombinedOutput()

	ee, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("child did not abort; err = %v, output:\n%s", err, out)
	}
	if code := ee.ExitCode(); code != 2 {
		t.Fatalf("child exit code = %d, want 2; output:\n%s", code, out)
	}
	if !strings.Contains(string(out), "fatal") {
		t.Errorf("abort message missing from child output:\n%s", out)
	}
}

func TestAllocShimUnlimitedByDefault(t *testing.T) {
	in := newTestInstance(t)
	big := strings.Repeat("a", 1<<16)
	if err := in.Run(`x = "`+big+`"`, "chunk"); err != nil {
		t.Fatalf("unlimited instance denied allocation: %v", err)
	}
	if in.AllocatedBytes() < int64(len(big)) {
		t.Errorf("AllocatedBytes = %d, want at least %d", in.AllocatedBytes(), len(big))
	}
}
