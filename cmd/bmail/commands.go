package main

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/praveen5665/bmail"
)

func newRegisterCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Generate and store a key pair for the identity",
		Long: `Generates an RSA key pair and keeps the private key in the local key store.
The printed public key and address are what the directory publishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				kp, err := c.Register(ctx)
				if err != nil {
					return err
				}
				out := struct {
					Identity    string `json:"identity"`
					Fingerprint string `json:"fingerprint"`
					PublicKey   string `json:"publicKey"`
					Address     string `json:"address,omitempty"`
				}{
					Identity:    c.Identity(),
					Fingerprint: kp.Fingerprint(),
					PublicKey:   kp.PublicKeyPEM,
				}
				if addr, err := c.Address(ctx); err == nil {
					out.Address = addr.Hex()
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

// composeFlags are the subject and body of a message being written.
type composeFlags struct {
	subject string
	body    string
}

func (f *composeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.subject, "subject", "s", "", "message subject")
	cmd.Flags().StringVarP(&f.body, "body", "b", "", `message body, "-" reads standard input`)
}

// sendResult prints r and turns a failure into the command error.
func sendResult(cmd *cobra.Command, r *bmail.SendResult) error {
	if err := writeJSON(cmd.OutOrStdout(), convertSendResult(r)); err != nil {
		return err
	}
	if !r.Success {
		return r.Err
	}
	return nil
}

func newSendCommand(g *globals) *cobra.Command {
	var f composeFlags
	cmd := &cobra.Command{
		Use:   "send <recipient>",
		Short: "Send an encrypted message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := messageBody(cmd, f.body)
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				return sendResult(cmd, c.Send(ctx, args[0], f.subject, body))
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newListCommand(g *globals, folder bmail.Folder) *cobra.Command {
	return &cobra.Command{
		Use:   folder.String(),
		Short: fmt.Sprintf("List the %s folder, newest first", folder),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				msgs, err := c.List(ctx, folder)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), struct {
					Messages []MessageOutput `json:"messages"`
				}{convertMessages(msgs)})
			})
		},
	}
}

func newReadCommand(g *globals) *cobra.Command {
	var keepUnread bool
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Show a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				msg, err := c.GetMessage(ctx, id)
				if err != nil {
					return err
				}
				if !keepUnread && !msg.IsRead && !msg.IsDraft {
					if err := c.MarkRead(ctx, id); err != nil {
						return err
					}
					msg.IsRead = true
				}
				return writeJSON(cmd.OutOrStdout(), convertMessage(msg))
			})
		},
	}
	cmd.Flags().BoolVar(&keepUnread, "keep-unread", false, "do not mark the message read")
	return cmd
}

func newStarCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "star <id>",
		Short: "Toggle the starred flag of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				starred, err := c.ToggleStar(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "starred": starred})
			})
		},
	}
}

func newDraftCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Save, edit and send drafts",
	}

	var save composeFlags
	saveCmd := &cobra.Command{
		Use:   "save <recipient>",
		Short: "Save a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := messageBody(cmd, save.body)
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				return sendResult(cmd, c.SaveDraft(ctx, args[0], save.subject, body))
			})
		},
	}
	save.register(saveCmd)

	var update composeFlags
	updateCmd := &cobra.Command{
		Use:   "update <id> <recipient>",
		Short: "Replace the content of a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body, err := messageBody(cmd, update.body)
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				if err := c.UpdateDraft(ctx, id, args[1], update.subject, body); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "updated": true})
			})
		},
	}
	update.register(updateCmd)

	sendCmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Send a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				if err := c.SendDraft(ctx, id); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "sent": true})
			})
		},
	}

	cmd.AddCommand(saveCmd, updateCmd, sendCmd)
	return cmd
}

func newBackupCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Export the private key sealed under a new recovery phrase",
		Long: `Writes the private key to file, sealed under a freshly generated 24 word
recovery phrase. The phrase is printed once and is needed to restore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				mnemonic, err := c.ExportKeyToFile(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"file":     args[0],
					"mnemonic": mnemonic,
				})
			})
		},
	}
}

func newRestoreCommand(g *globals) *cobra.Command {
	var mnemonic string
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore the private key from a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, err := messageBody(cmd, mnemonic)
			if err != nil {
				return err
			}
			return g.withClient(cmd, true, func(ctx context.Context, c *bmail.Client) error {
				kp, err := c.ImportKeyFromFile(ctx, args[0], phrase)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"identity":    c.Identity(),
					"fingerprint": kp.Fingerprint(),
				})
			})
		},
	}
	cmd.Flags().StringVarP(&mnemonic, "mnemonic", "m", "-", `recovery phrase, "-" reads standard input`)
	return cmd
}

func newWatchCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print inbox messages as they arrive, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, false, func(ctx context.Context, c *bmail.Client) error {
				return c.WatchFunc(ctx, func(msg *bmail.Message) {
					if err := writeJSON(cmd.OutOrStdout(), convertMessage(msg)); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), err)
					}
				})
			})
		},
	}
}

func newWaitCommand(g *globals) *cobra.Command {
	var (
		subject      string
		subjectRegex string
		from         string
		fromRegex    string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for an inbox message matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []bmail.WaitOption{bmail.WithWaitTimeout(timeout)}
			if subject != "" {
				opts = append(opts, bmail.WithSubject(subject))
			}
			if from != "" {
				opts = append(opts, bmail.WithFrom(from))
			}
			if subjectRegex != "" {
				re, err := regexp.Compile(subjectRegex)
				if err != nil {
					return fmt.Errorf("invalid --subject-regex: %w", err)
				}
				opts = append(opts, bmail.WithSubjectRegex(re))
			}
			if fromRegex != "" {
				re, err := regexp.Compile(fromRegex)
				if err != nil {
					return fmt.Errorf("invalid --from-regex: %w", err)
				}
				opts = append(opts, bmail.WithFromRegex(re))
			}

			return g.withClient(cmd, false, func(ctx context.Context, c *bmail.Client) error {
				msg, err := c.WaitForMessage(ctx, opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), convertMessage(msg))
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "exact subject")
	cmd.Flags().StringVar(&subjectRegex, "subject-regex", "", "subject pattern")
	cmd.Flags().StringVar(&from, "from", "", "exact sender identity")
	cmd.Flags().StringVar(&fromRegex, "from-regex", "", "sender identity pattern")
	cmd.Flags().DurationVar(&timeout, "wait", time.Minute, "how long to wait")
	return cmd
}
