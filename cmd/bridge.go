// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"beatlight/internal/animation"
	"beatlight/internal/bridge"
	"beatlight/internal/color"
	"beatlight/internal/config"
	"beatlight/internal/session"
	"beatlight/internal/transport/rest"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDiscoverCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find bridges on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			b, host := newBridge(cfg)
			defer host.Close()

			infos, err := b.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No bridges found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\n", info.ID, info.Address)
			}
			return w.Flush()
		},
	}
}

func newRegisterCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register <address>",
		Short: "Pair with a bridge; press its link button first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			b, host := newBridge(cfg)
			defer host.Close()

			hostname, _ := os.Hostname()
			creds, err := b.Register(cmd.Context(), args[0], appName+"#"+hostname)
			if err != nil {
				if errors.Is(err, rest.ErrLinkButtonNotPressed) {
					return fmt.Errorf("%w: press the link button on the bridge and run register again", err)
				}
				return err
			}
			if creds.SharedSecret == "" {
				fmt.Fprintln(os.Stderr, "The bridge issued no streaming key; only the request path will be used.")
			}

			fmt.Println("Add this to your config:")
			fmt.Println()
			return printYAML(struct {
				Bridge config.Bridge `yaml:"bridge"`
			}{config.Bridge{Address: args[0], Credentials: creds}})
		},
	}
}

func newGroupsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the entertainment groups of the configured bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Bridge.Valid() {
				return fmt.Errorf("bridge address and application key are required: %w", bridge.ErrConfigInvalid)
			}
			b, host := newBridge(cfg)
			defer host.Close()

			groups, err := b.Groups(cmd.Context(), cfg.Bridge)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHANNELS\t")
			for _, g := range groups {
				selected := ""
				if g.ID == cfg.Bridge.SelectedGroupID {
					selected = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Name, g.Status, channelList(g.Channels), selected)
			}
			return w.Flush()
		},
	}
}

func newFlashCommand(opts *options) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Play the test flash on the configured group and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			b, host := newBridge(cfg)
			defer host.Close()
			defer b.Close()

			manager := session.New(b, nil)
			if err := manager.Initialize(ctx, session.OptionsFrom(cfg)); err != nil {
				return err
			}
			defer manager.Stop()
			if err := manager.StartStreaming(ctx, cfg.Bridge.SelectedGroupID); err != nil {
				return err
			}
			fmt.Printf("Flashing over the %s path\n", pathName(manager.IsUsingStreamingMode()))

			seq := animation.New(manager, animation.Options{MinStepDelay: cfg.Dispatcher.AnimationInterval})
			if err := seq.TestFlash(ctx, color.White); err != nil {
				return err
			}
			if steps > 0 {
				if err := seq.ColorCycle(ctx, steps); err != nil {
					return err
				}
			}

			// Let the last queued steps reach the bridge before the session stops.
			return drain(ctx, manager, seq.StepDelay()+cfg.Dispatcher.SendTimeout)
		},
	}
	cmd.Flags().IntVar(&steps, "cycle", 0,
		fmt.Sprintf("Also play a color cycle of this many steps (%d-%d)", animation.MinCycleSteps, animation.MaxSteps))
	return cmd
}

// drain waits until both lanes are empty, up to limit.
func drain(ctx context.Context, manager *session.Manager, limit time.Duration) error {
	deadline := time.After(limit)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		empty := true
		for _, depth := range manager.Stats().QueueDepths {
			if depth > 0 {
				empty = false
			}
		}
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return errors.New("commands still queued after the flash")
		case <-ticker.C:
		}
	}
}

func pathName(streaming bool) string {
	if streaming {
		return "streaming"
	}
	return "request"
}

func channelList(ids []uint8) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
