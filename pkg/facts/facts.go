// Package facts gathers system information from a target over its shell.
package facts

import (
	"context"
	"errors"
	"strings"
)

// Runner runs a command on the target and returns its output.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Gather collects system facts from the target. Individual probes that fail
// are skipped; an error is returned only when nothing could be gathered.
func Gather(ctx context.Context, r Runner) (map[string]any, error) {
	facts := make(map[string]any)
	var errs []error

	// Gather OS information
	osInfo, err := gatherOSInfo(ctx, r)
	if err != nil {
		errs = append(errs, err)
	}
	for k, v := range osInfo {
		facts[k] = v
	}

	// Gather hostname
	if hostname, err := run(ctx, r, "hostname"); err == nil {
		facts["hostname"] = hostname
	} else {
		errs = append(errs, err)
	}

	if len(facts) == 0 {
		return facts, errors.Join(errs...)
	}
	return facts, nil
}

// gatherOSInfo gathers operating system information.
func gatherOSInfo(ctx context.Context, r Runner) (map[string]any, error) {
	info := make(map[string]any)

	osType, err := run(ctx, r, "uname -s")
	if err != nil {
		return info, err
	}
	info["os_type"] = osType
	info["os_family"] = osType

	if osType == "Linux" {
		// Try to get distribution info from /etc/os-release
		if out, err := run(ctx, r, "cat /etc/os-release"); err == nil {
			osRelease := parseOSRelease(out)
			if id, ok := osRelease["ID"]; ok {
				info["distribution"] = id
			}
			if version, ok := osRelease["VERSION_ID"]; ok {
				info["distribution_version"] = version
			}
			if name, ok := osRelease["PRETTY_NAME"]; ok {
				info["os_name"] = name
			}
		}
	}

	// Get architecture
	if arch, err := run(ctx, r, "uname -m"); err == nil {
		info["architecture"] = arch
		info["arch"] = normalizeArch(arch)
	}

	// Get kernel version; real-time kernels carry a PREEMPT_RT marker
	if kernel, err := run(ctx, r, "uname -r"); err == nil {
		info["kernel"] = kernel
	}
	if version, err := run(ctx, r, "uname -v"); err == nil {
		info["kernel_version"] = version
		info["preempt_rt"] = strings.Contains(version, "PREEMPT_RT") || strings.Contains(version, "PREEMPT RT")
	}

	return info, nil
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l", "armv6l":
		return "arm"
	default:
		return arch
	}
}

// parseOSRelease parses /etc/os-release format.
func parseOSRelease(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			result[key] = value
		}
	}
	return result
}

func run(ctx context.Context, r Runner, command string) (string, error) {
	out, err := r.Run(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
