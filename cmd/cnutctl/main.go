// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// cnutctl drives test networks of casper nodes: it starts them, serves the
// control API, and talks to the API of a running session.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Boiethios/cnut/api"
	"github.com/Boiethios/cnut/config"
	"github.com/Boiethios/cnut/network"
	"github.com/Boiethios/cnut/runner"
	"github.com/Boiethios/cnut/utils/logging"
)

const (
	cliVersion     = "0.1.0"
	requestTimeout = 2 * time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "cnutctl",
		Short:        "cnutctl commands",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version details",
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(os.Stdout, cliVersion)
			return nil
		},
	})

	rootCmd.AddCommand(runNetworkCommand())
	rootCmd.AddCommand(networkStatusCommand())

	var apiAddress string
	for _, cmd := range []*cobra.Command{
		nodeActionCommand("start-node", "Start a stopped or provisioned node", "start", &apiAddress),
		nodeActionCommand("stop-node", "Gracefully stop a node", "stop", &apiAddress),
		nodeActionCommand("restart-node", "Restart a node in place", "restart", &apiAddress),
		upgradeCommand(&apiAddress),
		addDeployCommand(&apiAddress),
		exportLogsCommand(&apiAddress),
	} {
		cmd.PersistentFlags().StringVar(&apiAddress, "api", "http://"+config.DefaultListenAddress, "base URL of the control API")
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cnutctl failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// runNetworkCommand starts a complete network and serves the control API
// until interrupted.
func runNetworkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-network",
		Short: "Provision, start, and serve a new network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			log, err := logging.NewLogger(cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := runner.RunNetwork(ctx, log, cfg)
			if err != nil {
				return err
			}

			server := api.NewServer(log, session, cfg.ListenAddress)
			if err := server.Start(); err != nil {
				_ = session.Close(context.Background())
				return err
			}
			fmt.Fprintf(os.Stdout, "Network running at %s, control API at http://%s\n",
				session.Network.Dir, server.Address())

			<-ctx.Done()
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			err = server.Shutdown(shutdownCtx)
			if closeErr := session.Close(shutdownCtx); closeErr != nil {
				return closeErr
			}
			return err
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// networkStatusCommand reads a persisted network directory. It works
// without a live session.
func networkStatusCommand() *cobra.Command {
	var networkDir string
	cmd := &cobra.Command{
		Use:   "network-status",
		Short: "Print the status of a network directory",
		RunE: func(*cobra.Command, []string) error {
			if networkDir == "" {
				return fmt.Errorf("--network-dir is required")
			}
			net, err := network.Read(networkDir)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(net.Status())
		},
	}
	cmd.PersistentFlags().StringVar(&networkDir, "network-dir", "", "path to a network directory")
	return cmd
}

func nodeActionCommand(use, short, action string, apiAddress *string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NODE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return postJSON(*apiAddress+"/v1/nodes/"+args[0]+"/"+action, nil)
		},
	}
}

func upgradeCommand(apiAddress *string) *cobra.Command {
	var (
		source string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "upgrade-node [NODE]",
		Short: "Upgrade one node, or the whole network with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{"source": source}
			if all {
				return postJSON(*apiAddress+"/v1/upgrade", body)
			}
			if len(args) != 1 {
				return fmt.Errorf("a node name or --all is required")
			}
			return postJSON(*apiAddress+"/v1/nodes/"+args[0]+"/upgrade", body)
		},
	}
	cmd.PersistentFlags().StringVar(&source, "source", "", "binary source: local:<dir>, rev:<ref>, or remote:<url>#<sha256>")
	cmd.PersistentFlags().BoolVar(&all, "all", false, "perform a rolling upgrade of every running node")
	return cmd
}

func addDeployCommand(apiAddress *string) *cobra.Command {
	var (
		node     string
		fromNode string
		to       string
		amount   string
		id       uint64
	)
	cmd := &cobra.Command{
		Use:   "add-deploy",
		Short: "Submit a transfer deploy to a running node",
		RunE: func(*cobra.Command, []string) error {
			return postJSON(*apiAddress+"/v1/deploys", map[string]any{
				"node": node,
				"transfer": map[string]any{
					"from_node": fromNode,
					"to":        to,
					"amount":    amount,
					"id":        id,
				},
			})
		},
	}
	cmd.PersistentFlags().StringVar(&node, "node", "", "node that receives the deploy")
	cmd.PersistentFlags().StringVar(&fromNode, "from-node", "", "node whose account funds the transfer")
	cmd.PersistentFlags().StringVar(&to, "to", "", "tagged hex public key of the recipient")
	cmd.PersistentFlags().StringVar(&amount, "amount", "", "amount of motes to transfer")
	cmd.PersistentFlags().Uint64Var(&id, "id", 0, "transfer id")
	return cmd
}

func exportLogsCommand(apiAddress *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-logs NODE",
		Short: "Print the retained logs of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				*apiAddress+"/v1/nodes/"+args[0]+"/logs", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	return cmd
}

// postJSON sends one control request and prints the API's response.
func postJSON(url string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func apiError(resp *http.Response) error {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && parsed.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, parsed.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
