package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/amora/internal/apikey"
	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/store"
	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage chat profiles"}

	var p domain.Profile
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				if err := repo.CreateProfile(ctx, &p); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				return err
			})
		},
	}
	add.Flags().StringVar(&p.Name, "name", "", "display name")
	add.Flags().StringVar(&p.Personality, "personality", "", "personality passed to the reply backend")
	add.Flags().StringVar(&p.WebhookURL, "webhook", "", "reply backend URL (empty disables relays)")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				profiles, err := repo.ListProfiles(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tNAME\tWEBHOOK")
				for _, p := range profiles {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.WebhookURL)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage reply backend API keys"}

	issue := &cobra.Command{
		Use:   "issue WOMAN_ID",
		Short: "Issue a key for a profile; the key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				profile, err := repo.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				if profile == nil {
					return domain.ErrProfileNotFound
				}
				raw, key, err := apikey.NewService(repo).Issue(ctx, profile.ID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nkey: %s\n", key.ID, raw)
				return err
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				return repo.SetAPIKeyActive(ctx, args[0], false)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list WOMAN_ID",
		Short: "List a profile's keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				keys, err := repo.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tPREFIX\tACTIVE\tLAST USED")
				for _, k := range keys {
					used := "never"
					if k.LastUsedAt != nil {
						used = k.LastUsedAt.Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", k.ID, k.KeyPrefix, k.Active, used)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(issue, revoke, list)
	return cmd
}

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grant", Short: "Grant chat access"}

	var (
		period  domain.FreeAccessPeriod
		forTime time.Duration
	)
	free := &cobra.Command{
		Use:   "free",
		Short: "Open a free access window starting now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if forTime <= 0 {
				return fmt.Errorf("--for must be positive")
			}
			period.StartsAt = time.Now().UTC()
			period.EndsAt = period.StartsAt.Add(forTime)
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				if err := repo.CreateFreeAccess(ctx, &period); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s until %s\n", period.ID, period.EndsAt.Format(time.RFC3339))
				return err
			})
		},
	}
	free.Flags().StringVar(&period.UserID, "user", "", "user id")
	free.Flags().StringVar(&period.WomanID, "woman", "", "profile id (empty for every profile)")
	free.Flags().DurationVar(&forTime, "for", 24*time.Hour, "window length")
	_ = free.MarkFlagRequired("user")

	cmd.AddCommand(free)
	return cmd
}

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subscription", Short: "Record billing subscriptions"}

	var (
		sub     domain.Subscription
		forTime time.Duration
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update a subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch sub.Status {
			case domain.SubscriptionActive, domain.SubscriptionTrialing, domain.SubscriptionCanceled, domain.SubscriptionPastDue:
			default:
				return fmt.Errorf("unknown status %q", sub.Status)
			}
			sub.CurrentPeriodEnd = time.Now().UTC().Add(forTime)
			return withRepo(cmd.Context(), func(ctx context.Context, repo store.Repository) error {
				if err := repo.UpsertSubscription(ctx, &sub); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s until %s\n", sub.ID, sub.Status, sub.CurrentPeriodEnd.Format(time.RFC3339))
				return err
			})
		},
	}
	set.Flags().StringVar(&sub.ID, "id", "", "billing provider subscription id (generated when empty)")
	set.Flags().StringVar(&sub.UserID, "user", "", "user id")
	set.Flags().StringVar(&sub.WomanID, "woman", "", "profile id")
	set.Flags().StringVar(&sub.Status, "status", domain.SubscriptionActive, "active, trialing, canceled or past_due")
	set.Flags().DurationVar(&forTime, "for", 30*24*time.Hour, "time until the current period ends")
	_ = set.MarkFlagRequired("user")
	_ = set.MarkFlagRequired("woman")

	cmd.AddCommand(set)
	return cmd
}
