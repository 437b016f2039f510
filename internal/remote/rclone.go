package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"strings"

	"github.com/openmined/remotesync/internal/config"
)

// rclone exit codes for a missing directory or file
const (
	exitDirNotFound  = 3
	exitFileNotFound = 4
)

// Rclone implements Remote by running the rclone binary. Remotes named "sftp", "gcs" and
// "s3" are defined on the fly through RCLONE_CONFIG_* environment variables so that no
// secret ever appears in the process arguments.
type Rclone struct {
	binary     string
	minSize    int64
	filterFile string
	tempDir    string
	env        map[string]string
	runner     CommandRunner
}

type RcloneOption func(*Rclone)

// WithRunner replaces the os/exec based runner.
func WithRunner(runner CommandRunner) RcloneOption {
	return func(r *Rclone) {
		r.runner = runner
	}
}

// WithTempDir sets where include files are written.
func WithTempDir(dir string) RcloneOption {
	return func(r *Rclone) {
		r.tempDir = dir
	}
}

func NewRclone(cfg *config.Config, opts ...RcloneOption) *Rclone {
	r := &Rclone{
		binary:     cfg.Rclone.Binary,
		minSize:    cfg.Rclone.MinSize,
		filterFile: cfg.Rclone.FilterFile,
		env:        BackendEnv(cfg),
		runner:     ExecRunner{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BackendEnv returns the rclone remote definitions for the configured backends.
func BackendEnv(cfg *config.Config) map[string]string {
	env := map[string]string{}

	if cfg.SFTP.Host != "" {
		env["RCLONE_CONFIG_SFTP_TYPE"] = "sftp"
		env["RCLONE_CONFIG_SFTP_HOST"] = cfg.SFTP.Host
		env["RCLONE_CONFIG_SFTP_PORT"] = strconv.Itoa(cfg.SFTP.Port)
		if cfg.SFTP.User != "" {
			env["RCLONE_CONFIG_SFTP_USER"] = cfg.SFTP.User
		}
		if cfg.SFTP.KeyFile != "" {
			env["RCLONE_CONFIG_SFTP_KEY_FILE"] = cfg.SFTP.KeyFile
		}
	}

	if cfg.GCS.BucketName != "" {
		env["RCLONE_CONFIG_GCS_TYPE"] = "google cloud storage"
		env["RCLONE_CONFIG_GCS_SERVICE_ACCOUNT_FILE"] = cfg.GCS.ServiceAccountFile
		env["RCLONE_CONFIG_GCS_BUCKET_POLICY_ONLY"] = "true"
	}

	if cfg.S3.BucketName != "" {
		provider := cfg.S3.Provider
		if provider == "" {
			provider = "AWS"
		}
		env["RCLONE_CONFIG_S3_TYPE"] = "s3"
		env["RCLONE_CONFIG_S3_PROVIDER"] = provider
		if cfg.S3.Region != "" {
			env["RCLONE_CONFIG_S3_REGION"] = cfg.S3.Region
		}
		if cfg.S3.Endpoint != "" {
			env["RCLONE_CONFIG_S3_ENDPOINT"] = cfg.S3.Endpoint
		}
		if cfg.S3.AccessKey != "" {
			env["RCLONE_CONFIG_S3_ACCESS_KEY_ID"] = cfg.S3.AccessKey
			env["RCLONE_CONFIG_S3_SECRET_ACCESS_KEY"] = cfg.S3.SecretKey
		} else {
			env["RCLONE_CONFIG_S3_ENV_AUTH"] = "true"
		}
	}

	return env
}

// UseSFTPPassword obscures the plaintext password and hands it to every later invocation.
// It must be called before the remote is shared between goroutines.
func (r *Rclone) UseSFTPPassword(ctx context.Context, plain string) error {
	if plain == "" {
		return nil
	}
	obscured, err := r.Obscure(ctx, plain)
	if err != nil {
		return fmt.Errorf("obscure sftp password: %w", err)
	}
	r.env["RCLONE_CONFIG_SFTP_PASS"] = obscured
	return nil
}

func (r *Rclone) List(ctx context.Context, ep Endpoint, opts ListOptions) ([]Entry, error) {
	args := []string{"lsjson", "-R", "--min-size", sizeArg(opts.MinSize), "--fast-list"}

	if len(opts.Include) > 0 {
		includeFile, err := writeRulesFile(r.tempDir, "list-include", opts.Include)
		if err != nil {
			return nil, &ListingError{Endpoint: ep.String(), Err: err}
		}
		defer os.Remove(includeFile)
		args = append(args, "--include-from", includeFile)
	}
	if r.filterFile != "" {
		args = append(args, "--filter-from", r.filterFile)
	}
	args = append(args, ep.String())

	slog.Debug("rclone list", "args", args)
	res, err := r.run(ctx, args, "")
	if err != nil {
		return nil, &ListingError{Endpoint: ep.String(), Err: err}
	}

	entries, err := ParseListing([]byte(res.Stdout))
	if err != nil {
		return nil, &ListingError{Endpoint: ep.String(), Err: err}
	}
	return entries, nil
}

func (r *Rclone) Copy(ctx context.Context, from, to Endpoint, allow []string, overwrite bool) error {
	// an empty include file would let rclone copy everything
	if len(allow) == 0 {
		return nil
	}

	rules := make([]string, len(allow))
	for i, p := range allow {
		rules[i] = AllowPattern(p)
	}
	includeFile, err := writeRulesFile(r.tempDir, "copy-include", rules)
	if err != nil {
		return err
	}
	defer os.Remove(includeFile)

	args := []string{
		"copy",
		"--min-size", sizeArg(r.minSize),
		"--fast-list",
		"--no-update-modtime",
		"--ignore-case",
		"--include-from", includeFile,
	}
	if r.filterFile != "" {
		args = append(args, "--filter-from", r.filterFile)
	}
	if !overwrite {
		args = append(args, "--ignore-existing")
	}
	args = append(args, from.String(), to.String())

	slog.Debug("rclone copy", "args", args, "files", len(allow))
	_, err = r.run(ctx, args, "")
	return err
}

func (r *Rclone) Delete(ctx context.Context, ep Endpoint, path string) error {
	args := []string{"deletefile", ep.Join(path)}

	slog.Debug("rclone delete", "args", args)
	_, err := r.run(ctx, args, "")
	if err != nil && isNotFound(err) {
		slog.Debug("rclone delete skipped, already absent", "path", path, "endpoint", ep.String())
		return nil
	}
	return err
}

func (r *Rclone) Obscure(ctx context.Context, secret string) (string, error) {
	// "-" makes rclone read the secret from stdin
	res, err := r.run(ctx, []string{"obscure", "-"}, secret)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return "", errors.New("rclone obscure returned no output")
	}
	return out, nil
}

func (r *Rclone) run(ctx context.Context, args []string, stdin string) (*CommandResult, error) {
	res, err := r.runner.Run(ctx, Command{
		Program: r.binary,
		Args:    args,
		Env:     maps.Clone(r.env),
		Stdin:   stdin,
	})
	if res != nil && res.Stderr != "" && err != nil {
		slog.Warn("rclone stderr", "cmd", args[0], "stderr", strings.TrimSpace(res.Stderr))
	}
	return res, err
}

func isNotFound(err error) bool {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.Code == exitDirNotFound || exitErr.Code == exitFileNotFound {
		return true
	}

	// Only ERROR lines count. rclone logs a NOTICE about a missing config file on every run
	// when remotes come from the environment.
	var errorLines int
	for _, line := range strings.Split(exitErr.Stderr, "\n") {
		if !strings.Contains(line, "ERROR") {
			continue
		}
		errorLines++
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "object not found") && !strings.Contains(lower, "directory not found") {
			return false
		}
	}
	return errorLines > 0
}

func sizeArg(n int64) string {
	return strconv.FormatInt(n, 10) + "b"
}

var _ Remote = (*Rclone)(nil)
