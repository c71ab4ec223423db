package main

import (
	"fmt"
	"strconv"
	"strings"

	libdur "github.com/nabbar/golib/duration"
	"github.com/spf13/viper"

	"github.com/FakeKuryr/pfwd/internal/config"
)

// fileDefaults and fileForward mirror the YAML shape documented in
// SPEC_FULL.md §6 one field at a time; viper unmarshals directly into them.
type fileDefaults struct {
	LogLevel           string `mapstructure:"log_level"`
	LogFormat          string `mapstructure:"log_format"`
	UdsMode            string `mapstructure:"uds_mode"`
	UdsOwner           string `mapstructure:"uds_owner"`
	UdsDir             string `mapstructure:"uds_dir"`
	UdpIdleTimeoutSecs int64  `mapstructure:"udp_idle_timeout_secs"`
}

type fileForward struct {
	Label          string `mapstructure:"label"`
	Listen         string `mapstructure:"listen"`
	UdpListen      string `mapstructure:"udp_listen"`
	Namespace      string `mapstructure:"namespace"`
	SetnsPath      string `mapstructure:"setns_path"`
	Uds            string `mapstructure:"uds"`
	Target         string `mapstructure:"target"`
	UdpTarget      string `mapstructure:"udp_target"`
	Mode           string `mapstructure:"mode"`
	Owner          string `mapstructure:"owner"`
	Backlog        int    `mapstructure:"backlog"`
	UdpIdleTimeout int64  `mapstructure:"udp_idle_timeout"`
}

type fileShape struct {
	Defaults fileDefaults  `mapstructure:"defaults"`
	Forward  []fileForward `mapstructure:"forward"`
}

// loadFile reads and unmarshals the YAML configuration at path. An empty
// path yields an empty (defaults-only) shape, so pfwd can run off CLI
// --forward flags alone.
func loadFile(path string) (config.File, error) {
	if path == "" {
		return config.File{}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return config.File{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fs fileShape
	if err := v.Unmarshal(&fs); err != nil {
		return config.File{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return toFile(fs), nil
}

func toFile(fs fileShape) config.File {
	out := config.File{
		Defaults: config.Defaults{
			LogLevel:           orDefault(fs.Defaults.LogLevel, "info"),
			LogFormat:          orDefault(fs.Defaults.LogFormat, "text"),
			UdsDir:             fs.Defaults.UdsDir,
			UdpIdleTimeoutSecs: fs.Defaults.UdpIdleTimeoutSecs,
		},
	}
	if mode, err := parseMode(fs.Defaults.UdsMode); err == nil {
		out.Defaults.UdsMode = mode
	}
	if owner, err := parseOwner(fs.Defaults.UdsOwner); err == nil {
		out.Defaults.UdsOwner = owner
	}

	for _, ff := range fs.Forward {
		out.Forward = append(out.Forward, rawFromFileForward(ff))
	}
	return out
}

func rawFromFileForward(ff fileForward) config.RawForward {
	r := config.RawForward{
		Label:        ff.Label,
		ListenTcp:    ff.Listen,
		ListenUdp:    ff.UdpListen,
		NamespaceRef: ff.Namespace,
		UdsPath:      ff.Uds,
		TargetTcp:    ff.Target,
		TargetUdp:    ff.UdpTarget,
		Backlog:      ff.Backlog,
	}
	if ff.SetnsPath != "" {
		r.NamespaceRef = ff.SetnsPath
	}
	if mode, err := parseMode(ff.Mode); err == nil {
		r.UdsMode = mode
	}
	if owner, err := parseOwner(ff.Owner); err == nil {
		r.UdsOwner = owner
	}
	if ff.UdpIdleTimeout > 0 {
		r.UdpIdleTimeout = libdur.Seconds(ff.UdpIdleTimeout)
	}
	return r
}

func parseMode(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty mode")
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseOwner(s string) (*config.Owner, error) {
	if s == "" {
		return nil, fmt.Errorf("empty owner")
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("owner must be uid:gid, got %q", s)
	}
	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, err
	}
	gid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, err
	}
	return &config.Owner{Uid: uid, Gid: gid}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// parseForwardFlag parses one --forward key=value[,key=value] flag value
// using the key set documented in SPEC_FULL.md §6.
func parseForwardFlag(s string) (config.RawForward, error) {
	var r config.RawForward
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return r, fmt.Errorf("malformed --forward entry %q: expected key=value", kv)
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch key {
		case "label":
			r.Label = value
		case "listen":
			r.ListenTcp = value
		case "udp_listen":
			r.ListenUdp = value
		case "namespace":
			r.NamespaceRef = value
		case "setns_path":
			r.NamespaceRef = value
		case "uds":
			r.UdsPath = value
		case "target":
			r.TargetTcp = value
		case "udp_target":
			r.TargetUdp = value
		case "mode":
			mode, err := parseMode(value)
			if err != nil {
				return r, fmt.Errorf("--forward mode: %w", err)
			}
			r.UdsMode = mode
		case "owner":
			owner, err := parseOwner(value)
			if err != nil {
				return r, fmt.Errorf("--forward owner: %w", err)
			}
			r.UdsOwner = owner
		case "backlog":
			n, err := strconv.Atoi(value)
			if err != nil {
				return r, fmt.Errorf("--forward backlog: %w", err)
			}
			r.Backlog = n
		case "udp_idle_timeout":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return r, fmt.Errorf("--forward udp_idle_timeout: %w", err)
			}
			r.UdpIdleTimeout = libdur.Seconds(secs)
		default:
			return r, fmt.Errorf("unrecognized --forward key %q", key)
		}
	}
	return r, nil
}

// mergeForward overlays cli onto base, field by field, with cli winning
// whenever it set a non-zero value. base and cli are matched beforehand by
// label; a cli entry with no matching label in base is appended as its own
// new forward entry instead of reaching this function.
func mergeForward(base, cli config.RawForward) config.RawForward {
	out := base
	if cli.Label != "" {
		out.Label = cli.Label
	}
	if cli.ListenTcp != "" {
		out.ListenTcp = cli.ListenTcp
	}
	if cli.ListenUdp != "" {
		out.ListenUdp = cli.ListenUdp
	}
	if cli.NamespaceRef != "" {
		out.NamespaceRef = cli.NamespaceRef
	}
	if cli.UdsPath != "" {
		out.UdsPath = cli.UdsPath
	}
	if cli.TargetTcp != "" {
		out.TargetTcp = cli.TargetTcp
	}
	if cli.TargetUdp != "" {
		out.TargetUdp = cli.TargetUdp
	}
	if cli.UdsMode != 0 {
		out.UdsMode = cli.UdsMode
	}
	if cli.UdsOwner != nil {
		out.UdsOwner = cli.UdsOwner
	}
	if cli.Backlog != 0 {
		out.Backlog = cli.Backlog
	}
	if cli.UdpIdleTimeout != 0 {
		out.UdpIdleTimeout = cli.UdpIdleTimeout
	}
	return out
}

// mergeForwards applies each cli forward flag onto the file's forward list,
// matching by label; cli entries with a label absent from file are appended.
func mergeForwards(file []config.RawForward, cli []config.RawForward) []config.RawForward {
	out := append([]config.RawForward(nil), file...)
	for _, c := range cli {
		matched := false
		for i, b := range out {
			if b.Label != "" && b.Label == c.Label {
				out[i] = mergeForward(b, c)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}
