package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/datamanager/pkg/registry"
	"github.com/wehubfusion/datamanager/pkg/service"
)

func newRunCommand(f *flags) *cobra.Command {
	var (
		factory string
		inputs  string
		iterate string
	)
	cmd := &cobra.Command{
		Use:   "run <process-id>",
		Short: "Execute one registered process locally and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			manager, cleanup, err := buildManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return runProcess(cmd, service.New(manager, service.WithLogger(logger)),
				service.ExecutionRequest{ProcessID: args[0], FactoryID: factory, Iterate: iterate}, inputs)
		},
	}
	cmd.Flags().StringVar(&factory, "factory", registry.DefaultFactoryID, "Factory holding the process")
	cmd.Flags().StringVar(&inputs, "inputs", "{}", "Input values as a JSON object")
	cmd.Flags().StringVar(&iterate, "iterate", "", "Run once per element of input \"items\" (sequential, parallel)")
	return cmd
}

func runProcess(cmd *cobra.Command, svc *service.Service, req service.ExecutionRequest, inputs string) error {
	if err := json.Unmarshal([]byte(inputs), &req.Inputs); err != nil {
		return fmt.Errorf("invalid --inputs: %w", err)
	}

	resp := svc.Execute(cmd.Context(), req)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("process %s failed", req.ProcessID)
	}
	return nil
}
