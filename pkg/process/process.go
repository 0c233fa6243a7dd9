// Package process wires a cobra command to a config struct bound via
// pkg/cfgstruct, then layers viper environment-variable overrides (env
// prefix CORESTREAM_) over the parsed flags before executing the
// command — the pattern every cmd/* binary in the teacher repo follows
// through its own pkg/process.
package process

import (
	"flag"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go.corestream.dev/corestream/pkg/cfgstruct"
)

// EnvPrefix is the viper environment variable prefix every bound flag is
// also readable under (e.g. flag "ingest.wal-dir" -> env
// "CORESTREAM_INGEST_WAL_DIR").
const EnvPrefix = "CORESTREAM"

// Bind registers one flag per leaf field of config on cmd, via
// cfgstruct.Bind.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.Opt) {
	cfgstruct.Bind(cmd.Flags(), config, opts...)
}

// ApplyEnvOverrides merges the stdlib flag.CommandLine into cmd's flag
// set and overwrites any flag that has a CORESTREAM_-prefixed
// environment variable set, on top of whatever value argv parsing or
// cfgstruct's defaults already produced. Root commands wire this into
// cobra.Command.PersistentPreRunE so it runs after cobra's own argv flag
// parsing but before the command body.
func ApplyEnvOverrides(cmd *cobra.Command) error {
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !v.IsSet(f.Name) {
			return
		}
		_ = cmd.Flags().Set(f.Name, v.GetString(f.Name))
	})
	return nil
}

// Exec applies environment overrides and then invokes cmd's body
// directly, bypassing cobra.Command.Execute()'s own os.Args parsing (so
// it's safe to call from tests, where os.Args carries the test binary's
// own -test.* flags rather than cmd's).
func Exec(cmd *cobra.Command) error {
	if err := ApplyEnvOverrides(cmd); err != nil {
		return err
	}
	if cmd.RunE != nil {
		return cmd.RunE(cmd, nil)
	}
	if cmd.Run != nil {
		cmd.Run(cmd, nil)
	}
	return nil
}

// SaveConfig writes a commented sample config file to path, one `# name:
// value` line per non-hidden flag, sorted by name; hidden flags (internal
// tuning knobs marked `hidden:"true"`) are omitted.
func SaveConfig(cmd *cobra.Command, path string) error {
	var names []string
	byName := map[string]*pflag.Flag{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		names = append(names, f.Name)
		byName[f.Name] = f
	})
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# auto-generated sample config; uncomment and edit as needed\n")
	for _, name := range names {
		b.WriteString("# ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(byName[name].Value.String())
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
