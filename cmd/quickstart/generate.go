package main

import (
	"fmt"
	"strconv"

	"github.com/cuongbtq/plugin-quickstart/internal/blankplugin"
	"github.com/spf13/cobra"
)

type generateFlags struct {
	name      string
	namespace string
	vst2      bool
	audioUnit bool
	tokens    map[string]string
	output    string
}

func newGenerateCmd(global *globalFlags) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one blank plugin archive",
		Long: `Generate one blank plugin archive and copy it to the output directory.

Examples:
  quickstart generate --name Reverb --namespace acme::dsp
  quickstart generate --name Delay --enable-vst2 --token year=2020 -o ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, global, flags)
		},
	}

	bindGenerateFlags(cmd, flags)

	return cmd
}

func bindGenerateFlags(cmd *cobra.Command, flags *generateFlags) {
	cmd.Flags().StringVar(&flags.name, "name", "", "Plugin name (default \""+blankplugin.DefaultName+"\")")
	cmd.Flags().StringVar(&flags.namespace, "namespace", "", "C++ namespace, segments separated by ::")
	cmd.Flags().BoolVar(&flags.vst2, "enable-vst2", false, "Enable the VST2 wrapper")
	cmd.Flags().BoolVar(&flags.audioUnit, "enable-audio-unit", false, "Enable the Audio Unit wrapper")
	cmd.Flags().StringToStringVar(&flags.tokens, "token", nil, "Additional template token as key=value (repeatable)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", ".", "Directory the archive is copied to")
}

// tokenMap merges --token values with the dedicated flags that were set
func (f *generateFlags) tokenMap(cmd *cobra.Command) map[string]string {
	tokens := make(map[string]string, len(f.tokens)+4)
	for key, value := range f.tokens {
		tokens[key] = value
	}

	if cmd.Flags().Changed("name") {
		tokens[blankplugin.TokenName] = f.name
	}
	if cmd.Flags().Changed("namespace") {
		tokens[blankplugin.TokenNamespace] = f.namespace
	}
	if cmd.Flags().Changed("enable-vst2") {
		tokens[blankplugin.TokenEnableVST2] = strconv.FormatBool(f.vst2)
	}
	if cmd.Flags().Changed("enable-audio-unit") {
		tokens[blankplugin.TokenEnableAU] = strconv.FormatBool(f.audioUnit)
	}

	return tokens
}

func runGenerate(cmd *cobra.Command, global *globalFlags, flags *generateFlags) (err error) {
	ctx := cmd.Context()

	a, err := newApp(ctx, global)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); err == nil {
			err = closeErr
		}
	}()

	run, err := a.manager.Enqueue(flags.tokenMap(cmd))
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	done, err := a.waitForJob(ctx, run.ID)
	if err != nil {
		return err
	}
	if done.Err != nil {
		return fmt.Errorf("job %s failed: %w", done.ID, done.Err)
	}

	target, err := deliver(done, flags.output)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), target)

	return nil
}
