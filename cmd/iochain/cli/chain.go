package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/filter"
)

var (
	chainDirection string
	chainEvent     string
	chainPayload   []string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Print the configured chain, or dry-run events through it",
	Long: `Print the chain template built from the config. With --payload, fire
one event per payload through a fresh chain and report what reached the
application (ingress) or the connection (egress). Audit records written
during a dry run go to a temporary directory and are discarded.`,
	Example: `  iochain chain -c iochain.yaml
  iochain chain -c iochain.yaml --payload 'hello' --payload 'SHUTDOWN'
  iochain chain -c iochain.yaml --direction egress --event write --payload 'reply'`,
	Args: cobra.NoArgs,
	RunE: runChain,
}

func init() {
	chainCmd.Flags().StringVar(&chainDirection, "direction", string(api.DirectionIngress), "direction to fire events in (ingress or egress)")
	chainCmd.Flags().StringVar(&chainEvent, "event", string(api.EventRead), "event kind to fire")
	chainCmd.Flags().StringArrayVar(&chainPayload, "payload", nil, "payload to fire; repeat for several events")
	rootCmd.AddCommand(chainCmd)
}

// delivery is one event that left the chain during a dry run.
type delivery struct {
	Direction api.Direction `json:"direction"`
	Kind      api.EventKind `json:"kind"`
	Payload   string        `json:"payload,omitempty"`
}

type dryRun struct {
	Chain     []api.EntryInfo `json:"chain"`
	Delivered []delivery      `json:"delivered,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}

func runChain(cmd *cobra.Command, args []string) error {
	dir := api.Direction(chainDirection)
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %q", chainDirection)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "iochain-dryrun-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	store, err := audit.NewJSONLStore(tmp)
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	defer store.Close()

	p, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}
	builder := filter.NewBuilder()
	if err := builder.Set(p.entries); err != nil {
		return err
	}

	out := dryRun{Chain: make([]api.EntryInfo, 0, len(p.entries))}
	for i, e := range builder.Entries() {
		out.Chain = append(out.Chain, api.EntryInfo{Position: i, Name: e.Name, Type: filter.Describe(e.Filter)})
	}

	if len(chainPayload) > 0 {
		var mu sync.Mutex
		record := func(_ context.Context, ev *filter.Event) error {
			text, _ := ev.Text()
			mu.Lock()
			defer mu.Unlock()
			out.Delivered = append(out.Delivered, delivery{Direction: ev.Direction, Kind: ev.Kind, Payload: text})
			return nil
		}
		c, err := builder.Instantiate(
			filter.WithLogger(logger),
			filter.WithInbound(record),
			filter.WithOutbound(record),
			filter.WithErrorHandler(func(context.Context, *filter.FilterError) {}),
		)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := context.Background()
		for _, payload := range chainPayload {
			var err error
			if dir == api.DirectionIngress {
				err = c.FireIngress(ctx, api.EventKind(chainEvent), []byte(payload+"\n"))
			} else {
				err = c.FireEgress(ctx, api.EventKind(chainEvent), payload)
			}
			if err != nil {
				out.Errors = append(out.Errors, err.Error())
			}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
