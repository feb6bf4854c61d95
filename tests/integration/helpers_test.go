package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// execInContainer runs a command in the container and returns stdout
func execInContainer(ctx context.Context, container testcontainers.Container, cmd []string) (int, string, error) {
	exitCode, reader, err := container.Exec(ctx, cmd)
	if err != nil {
		return exitCode, "", err
	}

	// Demux the Docker stream (stdout/stderr are multiplexed)
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, reader)

	return exitCode, stdout.String(), nil
}

// assertFileContains checks that a file contains all expected substrings
func assertFileContains(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expected []string) {
	t.Helper()
	exitCode, content, err := execInContainer(ctx, container, []string{"cat", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to read file %s", path)

	for _, substr := range expected {
		assert.Contains(t, content, substr, "file %s should contain %q", path, substr)
	}
}

// assertFileMode checks that a file has the expected permission mode
func assertFileMode(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expectedMode string) {
	t.Helper()
	exitCode, mode, err := execInContainer(ctx, container, []string{"stat", "-c", "%a", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to stat file %s", path)

	assert.Equal(t, expectedMode, strings.TrimSpace(mode), "file %s should have mode %s", path, expectedMode)
}

// endpoint is a mapped container port.
type endpoint struct {
	host string
	port int
}

// mappedPort resolves the host side of a container port
func mappedPort(t *testing.T, ctx context.Context, container testcontainers.Container, port string) endpoint {
	t.Helper()
	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return endpoint{host: host, port: mapped.Int()}
}

// writeConfig renders a single-target configuration for the container
func writeConfig(t *testing.T, dir string, telnet, ssh endpoint, script string) string {
	t.Helper()

	cfg := fmt.Sprintf(`targets:
  container:
    description: alpine telnetd
    builds:
      - name: script
        source_directory: %[1]s
        output_directory: %[1]s/out
        command: cp run_test.sh out/run_test.sh
        outputs: [run_test.sh]
    transfer:
      protocol: sftp
      host: %[2]s
      port: %[3]d
      username: rtuser
      password: rtpass
      target_directory: /home/rtuser/work
    telnet:
      host: %[2]s
      port: %[4]d
      username: rtuser
      password: rtpass
      prompt_pattern: 'rtlinux\$ '
      timeout: 15s
    files_to_upload:
      - local: %[1]s/out/run_test.sh
        remote: run_test.sh
    execution:
      script_name: run_test.sh
      timeout: 20s
      metrics_file: metrics.txt
      gather_facts: true
`, dir, telnet.host, ssh.port, telnet.port)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_test.sh"), []byte(script), 0o644))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}
