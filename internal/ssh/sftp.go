package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// PushFile uploads a local file to remotePath and returns the SHA-256 of the bytes
// read back from the remote side.
func PushFile(ctx context.Context, sf *sftp.Client, localPath, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return "", fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close remote: %w", err)
	}
	return RemoteChecksum(sf, remotePath)
}

// RemoteChecksum hashes a remote file over SFTP.
func RemoteChecksum(sf *sftp.Client, remotePath string) (string, error) {
	f, err := sf.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read remote: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
