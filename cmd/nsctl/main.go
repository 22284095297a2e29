package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/auth"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
	"github.com/spf13/cobra"
)

var namespaceFlag string

var rootCmd = &cobra.Command{
	Use:   "nsctl",
	Short: "Native Secrets CLI",
	Long:  "A CLI for managing shared secrets across Kubernetes namespaces.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")
	rootCmd.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "", "Target namespace")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(namespacesCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(putCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(denyCmd())
	rootCmd.AddCommand(reassignCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
}

// namespace resolves the target namespace from flag, env, then config.
func namespace() (string, error) {
	if namespaceFlag != "" {
		return namespaceFlag, nil
	}
	if v := os.Getenv("NSCTL_NAMESPACE"); v != "" {
		return v, nil
	}
	if cfg.Namespace != "" {
		return cfg.Namespace, nil
	}
	return "", fmt.Errorf("no namespace: use -n, NSCTL_NAMESPACE or `nsctl login`")
}

func nsPath(ns, suffix string) string {
	return "/api/v1/namespaces/" + url.PathEscape(ns) + suffix
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save server address, token and default namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("token"); v != "" {
				cfg.Token = v
			}
			if namespaceFlag != "" {
				cfg.Namespace = namespaceFlag
			}
			if err := saveConfig(); err != nil {
				return err
			}
			fmt.Printf("Saved %s\n", configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address, e.g. https://secrets.example.com")
	cmd.Flags().String("token", "", "Bearer token")
	return cmd
}

// --- namespaces ---

func namespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces eligible for secret management",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/api/v1/namespaces")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- secrets ---

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secrets in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.get(nsPath(ns, "/secrets"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a secret value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.get(nsPath(ns, "/secrets"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			secrets, _ := result["secrets"].(map[string]any)
			entry, ok := secrets[args[0]].(map[string]any)
			if !ok {
				printError(fmt.Sprintf("secret %q not found", args[0]))
				return nil
			}
			value, ok := entry["value"].(string)
			if !ok {
				printError(fmt.Sprintf("no access to %q", args[0]))
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Create or update a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post(nsPath(ns, "/secrets"), map[string]any{
				"key":   args[0],
				"value": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a secret and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.delete(nsPath(ns, "/secrets?key="+url.QueryEscape(args[0])))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- sharing ---

func shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <key> <user>",
		Short: "Share a secret with another user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post(nsPath(ns, "/share"), map[string]any{
				"key":      args[0],
				"sharedTo": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <key>",
		Short: "Request access to a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post(nsPath(ns, "/access-request"), map[string]any{
				"key": args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func respond(key, requestedBy string, approved bool) error {
	ns, err := namespace()
	if err != nil {
		return err
	}
	client := newClient()
	result, err := client.put(nsPath(ns, "/access-request"), map[string]any{
		"key":         key,
		"requestedBy": requestedBy,
		"approved":    approved,
	})
	if err != nil {
		printError(err.Error())
		return nil
	}
	printResult(result)
	return nil
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <key> <user>",
		Short: "Approve a pending access request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return respond(args[0], args[1], true)
		},
	}
}

func denyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deny <key> <user>",
		Short: "Deny a pending access request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return respond(args[0], args[1], false)
		},
	}
}

func reassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <key> <new-owner>",
		Short: "Transfer secret ownership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post(nsPath(ns, "/reassign"), map[string]any{
				"key":      args[0],
				"newOwner": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- audit ---

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail for a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespace()
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.get(nsPath(ns, "/audit"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if outputFormat != "table" {
				printResult(result)
				return nil
			}
			events, _ := result["events"].([]any)
			for _, raw := range events {
				ev, _ := raw.(map[string]any)
				line := fmt.Sprintf("%v  %-8v %v  %v", ev["timestamp"], ev["action"], ev["key"], ev["user"])
				if target, ok := ev["targetUser"].(string); ok && target != "" {
					line += " -> " + target
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// --- watch ---

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace ...]",
		Short: "Stream metadata changes for one or more namespaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if len(targets) == 0 {
				ns, err := namespace()
				if err != nil {
					return err
				}
				targets = []string{ns}
			}

			client := newClient()
			conn, err := client.dialWatch()
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, ns := range targets {
				msg := map[string]string{"action": "subscribe", "namespace": ns}
				if err := conn.WriteJSON(msg); err != nil {
					return fmt.Errorf("subscribing to %s: %w", ns, err)
				}
				fmt.Fprintf(os.Stderr, "watching %s\n", ns)
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-quit
				conn.Close()
			}()

			for {
				var ev models.MetadataEvent
				if err := conn.ReadJSON(&ev); err != nil {
					return nil
				}
				keys := sortedMetaKeys(ev.Metadata)
				fmt.Printf("%s  secrets=%d  [%v]\n", ev.Namespace, len(keys), joinStrings(keys))
			}
		},
	}
}

func sortedMetaKeys(meta *models.NamespaceMetadata) []string {
	if meta == nil {
		return nil
	}
	keys := make([]string, 0, len(meta.Secrets))
	for k := range meta.Secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinStrings(vals []string) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer token helpers"}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a bearer token and its config hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, hash, err := auth.NewToken()
			if err != nil {
				return err
			}
			printResult(map[string]any{
				"token": plaintext,
				"hash":  hash,
			})
			return nil
		},
	}

	cmd.AddCommand(generateCmd)
	return cmd
}
