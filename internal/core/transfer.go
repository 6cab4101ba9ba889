package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	gssh "github.com/3cpo-dev/lightfarm/internal/ssh"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

var ErrShipNotConfigured = errors.New("ship.host is not configured")

// LogFile is a local shard log queued for upload.
type LogFile struct {
	Path     string
	Name     string
	Size     int64
	Checksum string
}

// ShipReport summarises one upload of a log directory.
type ShipReport struct {
	RemoteDir string
	Files     []LogFile
}

// LogShipper uploads shard logs to a diagnostics host over SFTP.
type LogShipper struct {
	config ShipConfig
}

func NewLogShipper(cfg ShipConfig) *LogShipper {
	return &LogShipper{config: cfg}
}

// RemoteDir is where the logs of blobID land on the remote host.
func (ls *LogShipper) RemoteDir(blobID string) string {
	return path.Join(ls.config.RemoteDir, blobID)
}

// Ship uploads every regular file in logDir to RemoteDir(blobID) and verifies each
// upload by checksum. A file whose remote checksum differs is removed again.
func (ls *LogShipper) Ship(ctx context.Context, logDir, blobID string) (ShipReport, error) {
	report := ShipReport{RemoteDir: ls.RemoteDir(blobID)}
	if ls.config.Host == "" {
		return report, ErrShipNotConfigured
	}
	files, err := CollectLogs(logDir)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, fmt.Errorf("no logs in %s", logDir)
	}

	sshClient, err := ls.connectSSH(ctx)
	if err != nil {
		return report, fmt.Errorf("connect SSH: %w", err)
	}
	defer sshClient.Close()
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return report, fmt.Errorf("create SFTP client: %w", err)
	}
	defer sftpClient.Close()

	err = ls.upload(ctx, sftpClient, files, &report)
	return report, err
}

// upload pushes files into report.RemoteDir, appending each verified file to report.Files.
func (ls *LogShipper) upload(ctx context.Context, sftpClient *sftp.Client, files []LogFile, report *ShipReport) error {
	for _, f := range files {
		remotePath := path.Join(report.RemoteDir, f.Name)
		remoteSum, err := gssh.PushFile(ctx, sftpClient, f.Path, remotePath)
		if err != nil {
			return fmt.Errorf("upload %s: %w", f.Name, err)
		}
		if remoteSum != f.Checksum {
			_ = sftpClient.Remove(remotePath)
			return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", f.Name, f.Checksum, remoteSum)
		}
		log.Debug().Str("file", f.Name).Int64("bytes", f.Size).Str("remote", remotePath).Msg("log shipped")
		report.Files = append(report.Files, f)
	}
	return nil
}

// CollectLogs lists the regular files of logDir sorted by name, with checksums.
func CollectLogs(logDir string) ([]LogFile, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	var files []LogFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(logDir, e.Name())
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		sum, err := calculateChecksum(p)
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", e.Name(), err)
		}
		files = append(files, LogFile{Path: p, Name: e.Name(), Size: info.Size(), Checksum: sum})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (ls *LogShipper) connectSSH(ctx context.Context) (*ssh.Client, error) {
	signer, err := gssh.LoadPrivateKeySigner(ls.config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load SSH key: %w", err)
	}
	kh, err := gssh.LoadKnownHostsCallback(ls.config.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	port := ls.config.Port
	if port == 0 {
		port = 22
	}
	user := ls.config.User
	if user == "" {
		user = os.Getenv("USER")
	}
	client := &gssh.Client{
		Addr:       ls.config.Host + ":" + strconv.Itoa(port),
		User:       user,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    30 * time.Second,
		Retries:    ls.config.Retries,
		Backoff:    500 * time.Millisecond,
	}
	return gssh.Dial(ctx, client)
}
