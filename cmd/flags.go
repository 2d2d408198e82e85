package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each configuration key to the named flag of fs so a flag
// set on the command line overrides file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings map[string]string) {
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q bound to %q is not defined", name, key))
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(fmt.Sprintf("binding flag %q: %v", name, err))
		}
	}
}
