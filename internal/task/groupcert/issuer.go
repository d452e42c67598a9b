// Package groupcert issues the group certificate GG18 groups carry. Issuing
// is delegated to an external helper process rather than implemented
// in-tree, so the coordinator never links a PKI/crypto dependency it cannot
// audit.
package groupcert

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/meesign/meesignd/coreerrors"
	"github.com/meesign/meesignd/log"
)

var logger = log.NewModuleLogger(log.GroupCert)

// Issuer produces a group certificate for a freshly finalized DKG artifact.
// Implementations must not block holding any Communicator or base lock;
// Issue is always invoked after the caller has released its task lock.
type Issuer interface {
	Issue(ctx context.Context, groupIdentifier []byte, artifact []byte) ([]byte, error)
}

// ExecIssuer shells out to an external helper binary, feeding it the group
// identifier and DKG artifact on stdin and reading the DER certificate back
// on stdout. This mirrors how the coordinator treats every other
// cryptographic body as out of its trust boundary.
type ExecIssuer struct {
	Path string // path to the helper executable
	Args []string
}

// NewExecIssuer builds an Issuer that runs the helper at path.
func NewExecIssuer(path string, args ...string) *ExecIssuer {
	return &ExecIssuer{Path: path, Args: args}
}

func (e *ExecIssuer) Issue(ctx context.Context, groupIdentifier []byte, artifact []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Stdin = bytes.NewReader(append(append([]byte{}, groupIdentifier...), artifact...))
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		logger.Error("group certificate helper failed", "err", err, "stderr", errOut.String())
		return nil, coreerrors.Wrap(coreerrors.ExternalHelperError, err, "group certificate helper failed")
	}
	return out.Bytes(), nil
}

// Fake is an in-memory Issuer for tests: it returns a deterministic
// placeholder certificate without spawning a process.
type Fake struct {
	Err error
}

func (f *Fake) Issue(ctx context.Context, groupIdentifier []byte, artifact []byte) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	cert := append([]byte("fake-cert:"), artifact...)
	return cert, nil
}
