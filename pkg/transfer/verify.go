package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"digital.vasic.vfs/pkg/client"
)

// verify re-reads source and target and compares their BLAKE3 digests.
func (e *engine) verify(src, dst string) error {
	if err := e.setPhase(PhaseVerifying); err != nil {
		return err
	}
	srcSum, err := digest(e.ctx, e.req.Source, src, e.blockSize)
	if err != nil {
		return e.fatal(backendError("verify", src, err))
	}
	dstSum, err := digest(e.ctx, e.req.Target, dst, e.blockSize)
	if err != nil {
		return e.fatal(backendError("verify", dst, err))
	}
	if !bytes.Equal(srcSum, dstSum) {
		e.log.Warn("checksum mismatch", "source", src, "target", dst)
		return fmt.Errorf("%s: %w", dst, ErrChecksumMismatch)
	}
	return nil
}

// Digest returns the BLAKE3 digest of the file at p.
func Digest(ctx context.Context, c client.Client, p string) ([]byte, error) {
	return digest(ctx, c, p, DefaultBlockSize)
}

func digest(ctx context.Context, c client.Client, p string, blockSize int) ([]byte, error) {
	r, err := c.OpenFile(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := blake3.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, fmt.Errorf("hash %s: %w", p, err)
	}
	return h.Sum(nil), nil
}
