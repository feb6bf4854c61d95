// Package config loads the rtbolt configuration file: named targets, each
// with builds, a file transfer endpoint, a telnet shell and an execution
// section.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/rtbolt/internal/build"
	"github.com/eugenetaranov/rtbolt/internal/session"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

// Defaults applied by the loader.
const (
	DefaultTelnetPort     = 23
	DefaultFTPPort        = 21
	DefaultSFTPPort       = 22
	DefaultProtocol       = "ftp"
	// DefaultPromptPattern matches a shell prompt character at the very end
	// of the received output. Without the anchor an echoed command such as
	// "./run_test.sh > out.log" would complete the command early.
	DefaultPromptPattern  = `[$#>][ \t]*$`
	DefaultLoginTimeout   = 10 * time.Second
	DefaultScriptTimeout  = 60 * time.Second
	DefaultPrepareTimeout = 5 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultTransferTimeout = 30 * time.Second
	DefaultLogFile        = "rtbolt.log"

	// overallSlack is added to the script timeout when no overall timeout
	// is configured, to leave room for login, preparation and retrieval.
	overallSlack = 2 * time.Minute
)

var (
	DefaultLoginPrompts    = []string{`login:`, `Login:`, `Username:`}
	DefaultPasswordPrompts = []string{`password:`, `Password:`}
	DefaultRejectPatterns  = []string{`(?i)login incorrect|authentication failed|access denied`}
)

// File is a parsed configuration file.
type File struct {
	DefaultTarget string             `yaml:"default_target"`
	Debug         bool               `yaml:"debug"`
	LogFile       string             `yaml:"log_file"`
	ReportDir     string             `yaml:"report_dir"`
	Targets       map[string]*Target `yaml:"targets"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// Target is one remote system and everything needed to test on it.
type Target struct {
	Name        string    `yaml:"-"`
	Description string    `yaml:"description"`
	Builds      []Build   `yaml:"builds"`
	Transfer    Transfer  `yaml:"transfer"`
	FTP         *Transfer `yaml:"ftp"`
	Telnet      Telnet    `yaml:"telnet"`
	Uploads     []Upload  `yaml:"files_to_upload"`
	Execution   Execution `yaml:"execution"`
}

// Build is a local build command and the artifacts it must produce.
type Build struct {
	Name            string   `yaml:"name"`
	SourceDirectory string   `yaml:"source_directory"`
	OutputDirectory string   `yaml:"output_directory"`
	Command         string   `yaml:"command"`
	Outputs         []string `yaml:"outputs"`
}

// Transfer is the file transfer endpoint on the target.
type Transfer struct {
	Protocol        string   `yaml:"protocol"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	TargetDirectory string   `yaml:"target_directory"`
	Timeout         Duration `yaml:"timeout"`
	KnownHosts      string   `yaml:"known_hosts"`
}

// Telnet is the interactive shell endpoint on the target.
type Telnet struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	PromptPattern   string   `yaml:"prompt_pattern"`
	LoginPrompts    []string `yaml:"login_prompts"`
	PasswordPrompts []string `yaml:"password_prompts"`
	RejectPatterns  []string `yaml:"reject_patterns"`
	Timeout         Duration `yaml:"timeout"`
	CloseTimeout    Duration `yaml:"close_timeout"`
}

// Upload maps a local file to its name on the target.
type Upload struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// Execution describes the script run on the target.
type Execution struct {
	ScriptName       string   `yaml:"script_name"`
	Timeout          Duration `yaml:"timeout"`
	MetricsFile      string   `yaml:"metrics_file"`
	WorkingDirectory string   `yaml:"working_directory"`
	PrepareTimeout   Duration `yaml:"prepare_timeout"`
	OverallTimeout   Duration `yaml:"overall_timeout"`
	Chmod            *bool    `yaml:"chmod"`
	GatherFacts      bool     `yaml:"gather_facts"`
}

// Duration accepts either a number of seconds or a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs float64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: invalid duration", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadFile reads, parses and validates a configuration file.
func LoadFile(p string) (*File, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", p, err)
	}
	f.Path = p
	return f, nil
}

// Parse parses configuration from YAML (or JSON) data, applies defaults and
// validates the result.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid config format: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, errors.New("no targets defined")
	}

	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.LogFile == "" {
		f.LogFile = DefaultLogFile
	}
	if f.DefaultTarget == "" && len(f.Targets) == 1 {
		for name := range f.Targets {
			f.DefaultTarget = name
		}
	}
	for name, t := range f.Targets {
		if t == nil {
			t = &Target{}
			f.Targets[name] = t
		}
		t.Name = name
		t.applyDefaults()
	}
}

func (t *Target) applyDefaults() {
	// Older configuration files call the transfer section "ftp".
	if t.FTP != nil && t.Transfer.Host == "" {
		t.Transfer = *t.FTP
		if t.Transfer.Protocol == "" {
			t.Transfer.Protocol = "ftp"
		}
	}
	t.FTP = nil

	tr := &t.Transfer
	if tr.Protocol == "" {
		tr.Protocol = DefaultProtocol
	}
	tr.Protocol = strings.ToLower(tr.Protocol)
	if tr.Port == 0 {
		switch tr.Protocol {
		case "sftp":
			tr.Port = DefaultSFTPPort
		default:
			tr.Port = DefaultFTPPort
		}
	}
	if tr.Timeout == 0 {
		tr.Timeout = Duration(DefaultTransferTimeout)
	}

	tn := &t.Telnet
	if tn.Port == 0 {
		tn.Port = DefaultTelnetPort
	}
	if tn.PromptPattern == "" {
		tn.PromptPattern = DefaultPromptPattern
	}
	if len(tn.LoginPrompts) == 0 {
		tn.LoginPrompts = DefaultLoginPrompts
	}
	if len(tn.PasswordPrompts) == 0 {
		tn.PasswordPrompts = DefaultPasswordPrompts
	}
	if tn.RejectPatterns == nil {
		tn.RejectPatterns = DefaultRejectPatterns
	}
	if tn.Timeout == 0 {
		tn.Timeout = Duration(DefaultLoginTimeout)
	}
	if tn.CloseTimeout == 0 {
		tn.CloseTimeout = Duration(DefaultCloseTimeout)
	}

	ex := &t.Execution
	if ex.Timeout == 0 {
		ex.Timeout = Duration(DefaultScriptTimeout)
	}
	if ex.PrepareTimeout == 0 {
		ex.PrepareTimeout = Duration(DefaultPrepareTimeout)
	}
	if ex.OverallTimeout == 0 {
		ex.OverallTimeout = ex.Timeout + Duration(overallSlack)
	}
	if ex.WorkingDirectory == "" {
		ex.WorkingDirectory = tr.TargetDirectory
	}
	if ex.Chmod == nil {
		chmod := true
		ex.Chmod = &chmod
	}

	for i := range t.Builds {
		b := &t.Builds[i]
		if b.Name == "" {
			b.Name = fmt.Sprintf("build-%d", i+1)
		}
		if b.SourceDirectory == "" {
			b.SourceDirectory = "."
		}
		if b.OutputDirectory == "" {
			b.OutputDirectory = "."
		}
	}
}

// Validate checks every target.
func (f *File) Validate() error {
	var errs []error
	if f.DefaultTarget != "" {
		if _, ok := f.Targets[f.DefaultTarget]; !ok {
			errs = append(errs, fmt.Errorf("default_target %q is not defined", f.DefaultTarget))
		}
	}
	for _, name := range f.TargetNames() {
		if err := f.Targets[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that every configured section is complete and that the
// shell settings would be accepted by a session.
func (t *Target) Validate() error {
	var errs []error

	for i, b := range t.Builds {
		if strings.TrimSpace(b.Command) == "" {
			errs = append(errs, fmt.Errorf("builds[%d] (%s): command is required", i, b.Name))
		}
	}

	needsTransfer := len(t.Uploads) > 0 || t.Execution.MetricsFile != ""
	if needsTransfer {
		if t.Transfer.Host == "" {
			errs = append(errs, errors.New("transfer.host is required"))
		}
		if !contains(transfer.Protocols(), t.Transfer.Protocol) {
			errs = append(errs, fmt.Errorf("transfer.protocol %q is not supported (have %s)",
				t.Transfer.Protocol, strings.Join(transfer.Protocols(), ", ")))
		}
	}
	for i, u := range t.Uploads {
		if u.Local == "" || u.Remote == "" {
			errs = append(errs, fmt.Errorf("files_to_upload[%d]: local and remote are required", i))
		}
	}

	if t.Execution.ScriptName != "" {
		if err := t.SessionConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telnet: %w", err))
		} else if _, err := session.New(t.SessionConfig()); err != nil {
			errs = append(errs, fmt.Errorf("telnet: %w", err))
		}
	}

	return errors.Join(errs...)
}

// TargetNames returns the target names in sorted order.
func (f *File) TargetNames() []string {
	names := make([]string, 0, len(f.Targets))
	for name := range f.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the named target, or the default target when name is empty.
func (f *File) Select(name string) (*Target, error) {
	if name == "" {
		name = f.DefaultTarget
	}
	if name == "" {
		return nil, fmt.Errorf("no target given and no default_target set (have %s)",
			strings.Join(f.TargetNames(), ", "))
	}
	t, ok := f.Targets[name]
	if !ok {
		return nil, fmt.Errorf("target %q not found (have %s)", name, strings.Join(f.TargetNames(), ", "))
	}
	return t, nil
}

// SessionConfig converts the telnet and execution settings.
func (t *Target) SessionConfig() session.Config {
	return session.Config{
		Host:            t.Telnet.Host,
		Port:            t.Telnet.Port,
		Username:        t.Telnet.Username,
		Password:        t.Telnet.Password,
		PromptPattern:   t.Telnet.PromptPattern,
		LoginPrompts:    t.Telnet.LoginPrompts,
		PasswordPrompts: t.Telnet.PasswordPrompts,
		RejectPatterns:  t.Telnet.RejectPatterns,
		LoginTimeout:    t.Telnet.Timeout.Std(),
		CommandTimeout:  t.Execution.Timeout.Std(),
		OverallTimeout:  t.Execution.OverallTimeout.Std(),
		PrepareTimeout:  t.Execution.PrepareTimeout.Std(),
		CloseTimeout:    t.Telnet.CloseTimeout.Std(),
	}
}

// TransferConfig converts the transfer settings.
func (t *Target) TransferConfig() transfer.Config {
	return transfer.Config{
		Protocol:   t.Transfer.Protocol,
		Host:       t.Transfer.Host,
		Port:       t.Transfer.Port,
		Username:   t.Transfer.Username,
		Password:   t.Transfer.Password,
		Directory:  t.Transfer.TargetDirectory,
		Timeout:    t.Transfer.Timeout.Std(),
		KnownHosts: t.Transfer.KnownHosts,
	}
}

// BuildSpecs converts the build list.
func (t *Target) BuildSpecs() []build.Spec {
	specs := make([]build.Spec, len(t.Builds))
	for i, b := range t.Builds {
		specs[i] = build.Spec{
			Name:            b.Name,
			SourceDirectory: b.SourceDirectory,
			OutputDirectory: b.OutputDirectory,
			Command:         b.Command,
			Outputs:         b.Outputs,
		}
	}
	return specs
}

// Plan describes the session run for this target. metricsLocal is where a
// retrieved metrics file is written.
func (t *Target) Plan(metricsLocal string) session.Plan {
	p := session.Plan{
		WorkDir:     t.Execution.WorkingDirectory,
		Command:     scriptCommand(t.Execution.ScriptName),
		GatherFacts: t.Execution.GatherFacts,
	}
	if *t.Execution.Chmod {
		for _, u := range t.Uploads {
			p.Executables = append(p.Executables, u.Remote)
		}
	}
	if t.Execution.MetricsFile != "" {
		p.MetricsRemote = t.Execution.MetricsFile
		p.MetricsLocal = metricsLocal
	}
	return p
}

// scriptCommand runs a bare script name from the working directory.
func scriptCommand(name string) string {
	if name == "" || strings.ContainsAny(name, "/ ") {
		return name
	}
	return "./" + path.Clean(name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
