package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuongbtq/plugin-quickstart/internal/jobs/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// batchFile lists one token map per plugin to generate
type batchFile struct {
	Jobs []map[string]string `yaml:"jobs"`
}

func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if len(batch.Jobs) == 0 {
		return nil, errors.New("batch file has no jobs")
	}

	return &batch, nil
}

func newBatchCmd(global *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Generate every plugin listed in a YAML batch file",
		Long: `Generate every plugin listed in a YAML batch file. The jobs run in
parallel and each archive is copied to the output directory.

Batch file format:
  jobs:
    - name: Reverb
      namespace: acme::dsp
    - name: Delay
      enable_vst2: "true"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, global, args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "Directory the archives are copied to")

	return cmd
}

func runBatch(cmd *cobra.Command, global *globalFlags, path, output string) (err error) {
	ctx := cmd.Context()

	batch, err := loadBatchFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, global)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); err == nil {
			err = closeErr
		}
	}()

	runs := make([]domain.JobRun, 0, len(batch.Jobs))
	for _, tokens := range batch.Jobs {
		run, err := a.manager.Enqueue(tokens)
		if err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		runs = append(runs, run)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tRESULT")

	failed := 0
	for _, run := range runs {
		done, err := a.waitForJob(ctx, run.ID)
		if err != nil {
			return err
		}

		result := done.ErrorMessage()
		if done.Err == nil {
			result, err = deliver(done, output)
			if err != nil {
				return err
			}
		} else {
			failed++
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", done.ID, done.CompletionStatus(), result)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(runs))
	}

	return nil
}
