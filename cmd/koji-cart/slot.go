package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/config"
	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/session"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

const slotCmdTimeout = 10 * time.Second

func slotCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Inspect or reset a visitor's persisted cart",
	}
	cmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Session id (the cart_session cookie)")
	_ = cmd.MarkPersistentFlagRequired("session")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the line items stored for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSlot(cmd, *configPath, sessionID, func(ctx context.Context, s slot.Slot) error {
				data, err := s.Load(ctx)
				if err != nil {
					return err
				}
				items, err := slot.Decode(data)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "stored value is unreadable: %v\n", err)
				}
				printItems(cmd.OutOrStdout(), s.Key(), items)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart stored for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSlot(cmd, *configPath, sessionID, func(ctx context.Context, s slot.Slot) error {
				data, err := slot.Encode(nil)
				if err != nil {
					return err
				}
				if err := s.Save(ctx, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", s.Key())
				return nil
			})
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

// withSlot opens the session's slot through the same backends the server
// uses, so a clear reaches every replica's open pages.
func withSlot(cmd *cobra.Command, configPath, sessionID string, fn func(context.Context, slot.Slot) error) error {
	if !session.ValidID(sessionID) {
		return session.ErrInvalidID
	}
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), slotCmdTimeout)
	defer cancel()

	log := logger.Discard()
	b, err := openBackends(ctx, cfg, log, func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "change not announced: %v\n", err)
	})
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.SlotBackend == config.SlotMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "memory slots live inside the server process; this command sees an empty store")
	}

	s, _ := b.open(slot.Key(sessionID))
	return fn(ctx, s)
}

func printItems(w io.Writer, key string, items []domain.LineItem) {
	fmt.Fprintf(w, "%s: %d line item(s)\n", key, len(items))
	if len(items) == 0 {
		return
	}

	var sum int64
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tQTY\tPRICE\tSUBTOTAL\tADDED")
	for _, it := range items {
		sum += it.Subtotal()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.Title, it.Quantity,
			cart.FormatMinor(it.Price, it.Currency),
			cart.FormatMinor(it.Subtotal(), it.Currency),
			it.AddedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "total: %s\n", cart.FormatTotal(items, sum))
}
