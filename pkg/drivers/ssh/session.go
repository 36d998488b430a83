package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openconform/openconform/pkg/engine"
)

// Session is an open SSH connection to one device. Sessions are not safe
// for concurrent use; the orchestrator drives each session from a single
// worker.
type Session struct {
	client         *ssh.Client
	device         *engine.Device
	profile        *PlatformProfile
	commandTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ engine.DeviceSession = (*Session)(nil)

// PushCommands sends commands to the device in order and returns the
// combined output. It stops at the first rejected command and returns
// the output produced up to and including the failure.
func (s *Session) PushCommands(ctx context.Context, commands []string) (string, error) {
	var output strings.Builder

	for _, command := range commands {
		stdout, stderr, err := s.run(ctx, "push", command)

		if stdout != "" {
			output.WriteString(stdout)
			if !strings.HasSuffix(stdout, "\n") {
				output.WriteString("\n")
			}
		}
		if stderr != "" {
			output.WriteString(stderr)
			if !strings.HasSuffix(stderr, "\n") {
				output.WriteString("\n")
			}
		}

		if err != nil {
			log.Debug().
				Str("device", s.device.Name).
				Str("command", command).
				Err(err).
				Msg("command push failed")
			return output.String(), err
		}
	}

	return output.String(), nil
}

// FetchRunningConfig retrieves the device's running configuration. File
// backed platforms read the config file over SFTP, the rest execute the
// profile's show command.
func (s *Session) FetchRunningConfig(ctx context.Context) (string, error) {
	if s.profile.ConfigPath != "" {
		return s.fetchConfigFile(ctx, s.profile.ConfigPath)
	}

	stdout, stderr, err := s.run(ctx, "fetch", s.profile.FetchCommand)
	if err != nil {
		return "", err
	}

	if stdout == "" && stderr != "" {
		// Some platforms print the config on stderr when paging is off.
		return stderr, nil
	}
	return stdout, nil
}

// DownloadConfig snapshots the device configuration into a local file,
// creating parent directories as needed. File backed platforms stream
// the file over SFTP; CLI platforms persist the fetched text.
func (s *Session) DownloadConfig(ctx context.Context, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to create local directory: %w", err),
			IsTemporary: false,
		}
	}

	if s.profile.ConfigPath != "" {
		return s.downloadFile(ctx, s.profile.ConfigPath, localPath)
	}

	text, err := s.FetchRunningConfig(ctx)
	if err != nil {
		return err
	}

	if err := os.WriteFile(localPath, []byte(text), 0o600); err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to write local file: %w", err),
			IsTemporary: false,
		}
	}
	return nil
}

// Close terminates the session. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.closeErr = s.client.Close()
		}
	})
	return s.closeErr
}

// runSetup executes the profile's setup commands in order.
func (s *Session) runSetup(ctx context.Context) error {
	for _, command := range s.profile.SetupCommands {
		if _, _, err := s.run(ctx, "setup", command); err != nil {
			return err
		}
	}
	return nil
}

// run executes one command in its own exec channel. A non-zero exit
// status is a rejected command; channel failures are transient. On
// context cancellation the remote process is signalled and the error
// reports as temporary so the orchestrator may retry.
func (s *Session) run(ctx context.Context, op, command string) (string, string, error) {
	if s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	execSession, err := s.client.NewSession()
	if err != nil {
		return "", "", &DriverError{
			Op:          op,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer execSession.Close()

	var stdout, stderr bytes.Buffer
	execSession.Stdout = &stdout
	execSession.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- execSession.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Best-effort abort of the in-flight command.
		execSession.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		execSession.Signal(ssh.SIGKILL)

		return stdout.String(), stderr.String(), &DriverError{
			Op:          op,
			Err:         fmt.Errorf("command %q aborted: %w", command, ctx.Err()),
			IsTemporary: true,
		}

	case err := <-done:
		if err == nil {
			return stdout.String(), stderr.String(), nil
		}

		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), &DriverError{
				Op:         op,
				Err:        fmt.Errorf("command %q exited with code %d: %s", command, exitErr.ExitStatus(), strings.TrimSpace(stderr.String())),
				IsRejected: true,
			}
		}

		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			// The connection dropped before the exit status arrived.
			return stdout.String(), stderr.String(), &DriverError{
				Op:          op,
				Err:         fmt.Errorf("command %q finished without exit status: %w", command, err),
				IsTemporary: true,
			}
		}

		return stdout.String(), stderr.String(), &DriverError{
			Op:          op,
			Err:         fmt.Errorf("command %q failed: %w", command, err),
			IsTemporary: true,
		}
	}
}

// fetchConfigFile reads the remote configuration file over SFTP.
func (s *Session) fetchConfigFile(ctx context.Context, remotePath string) (string, error) {
	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return "", &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to open remote config %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, remoteFile); err != nil {
		return "", &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to read remote config: %w", err),
			IsTemporary: true,
		}
	}

	return buf.String(), nil
}

// downloadFile streams a remote file to a local path over SFTP.
func (s *Session) downloadFile(ctx context.Context, remotePath, localPath string) error {
	start := time.Now()

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to open remote file %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to create local file: %w", err),
			IsTemporary: false,
		}
	}
	defer localFile.Close()

	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return &DriverError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("device", s.device.Name).
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("config downloaded")

	return nil
}

// copyWithContext copies from src to dst while respecting context
// cancellation between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
