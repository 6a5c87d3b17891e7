package cmd

import (
	"github.com/sloonz/shelvery/lib"

	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cmdPreset = &cobra.Command{
	Use:   "preset",
	Short: "Manage configuration presets",
}

var presetSetClear bool
var cmdPresetSet = &cobra.Command{
	Use:   "set <preset-name> [option=value...]",
	Short: "Create or modify preset",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := os.MkdirAll(presetsDir, 0777)
		if err != nil {
			logrus.Fatal(err)
		}

		presetPath := path.Join(presetsDir, fmt.Sprintf("%v.json", args[0]))

		var kvs []shelvery.KeyValuePair
		if !presetSetClear {
			data, err := os.ReadFile(presetPath)
			if err != nil && !os.IsNotExist(err) {
				logrus.Fatal(err)
			} else if err == nil {
				err = json.Unmarshal(data, &kvs)
				if err != nil {
					logrus.Fatal(err)
				}
			}
		}

		for _, opts := range args[1:] {
			kvs = append(kvs, shelvery.SplitOptions(opts)...)
		}

		data, err := json.Marshal(kvs)
		if err != nil {
			logrus.Fatal(err)
		}

		err = os.WriteFile(presetPath, data, 0666)
		if err != nil {
			logrus.Fatal(err)
		}
	},
}

var cmdPresetRemove = &cobra.Command{
	Use:   "remove <preset-name...>",
	Short: "Remove presets",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range args {
			err := os.Remove(path.Join(presetsDir, fmt.Sprintf("%s.json", name)))
			if err != nil && !os.IsNotExist(err) {
				logrus.Warn(err)
			}
		}
	},
}

var presetListVerbose bool
var cmdPresetList = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range slices.Sorted(maps.Keys(presets)) {
			if presetListVerbose {
				fmt.Printf("%v %v\n", name, presets[name])
			} else {
				fmt.Printf("%v\n", name)
			}
		}
	},
}

var presetEvalEffective bool
var cmdPresetEval = &cobra.Command{
	Use:   "eval <option-line>",
	Short: "Show the invocation config produced by an option line (after presets substitutions and template evaluation)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kvs := shelvery.SplitOptions(args[0])
		options, err := shelvery.EvalOptions(kvs, presets)
		if err != nil {
			logrus.Fatal(err)
		}

		payload := options.ConfigMap()
		if !presetEvalEffective {
			for _, k := range slices.Sorted(maps.Keys(payload)) {
				fmt.Printf("%s: %s\n", k, payload[k])
			}
			return
		}

		// Every known key, as resolved from payload, environment and defaults
		resolver := shelvery.NewResolver()
		config := resolver.Bind(payload)
		keys := maps.Clone(payload)
		maps.Copy(keys, resolver.Defaults)
		for _, k := range slices.Sorted(maps.Keys(keys)) {
			fmt.Printf("%s: %s\n", k, config.String(k, nil))
		}
	},
}

func init() {
	cmdPresetList.Flags().BoolVarP(&presetListVerbose, "verbose", "v", false, "also print preset content")
	cmdPresetSet.Flags().BoolVarP(&presetSetClear, "clear", "c", false, "remove existing entries")
	cmdPresetEval.Flags().BoolVarP(&presetEvalEffective, "effective", "e", false, "also resolve keys from environment and defaults")
	cmdPreset.AddCommand(cmdPresetSet, cmdPresetRemove, cmdPresetList, cmdPresetEval)
}
