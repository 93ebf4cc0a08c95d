package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/clawdlabs/clawd-domains/internal/payment"
	"github.com/clawdlabs/clawd-domains/pkg/client"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawd",
	Short: "Clawd Domains CLI",
	Long: `clawd is the command-line interface for the Clawd Domains broker.

It lets you search for domains, buy them with USDC over the x402 payment
flow, and manage DNS for domains you own.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.clawd")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("clawd")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8402"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.clawd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "broker base URL (default http://localhost:8402)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(buyCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(dnsCmd)
	rootCmd.AddCommand(nsCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchTLDs   string
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Check domain availability and pricing across TLDs",
	Long: `Search checks availability of a name across TLDs and shows
first-year and renewal pricing in USDC:

  clawd search myproject
  clawd search myproject --tlds com,dev,ai --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		var tlds []string
		if searchTLDs != "" {
			tlds = strings.Split(searchTLDs, ",")
		}
		results, err := c.Search(context.Background(), args[0], tlds)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if searchFormat == "json" {
			return printJSON(results)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tAVAILABLE\tFIRST YEAR\tRENEWAL")
		for _, r := range results {
			avail := "no"
			if r.Available {
				avail = "yes"
				if r.Premium {
					avail = "yes (premium)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Domain, avail, r.FirstYearPrice, r.RenewalPrice)
		}
		return w.Flush()
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchTLDs, "tlds", "", "Comma-separated TLDs to check (default: server's list)")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
}

// ── buy ──────────────────────────────────────────────────────────────────────

var (
	buyYears int
	buyKey   string
)

var buyCmd = &cobra.Command{
	Use:   "buy <domain>",
	Short: "Start a domain purchase and pay for it in USDC",
	Long: `Buy creates a purchase for the domain, fetches the payment challenge,
and settles it.

With --key (or CLAWD_WALLET_KEY) the authorization is signed locally and
submitted in one step. Without a key, the challenge details are printed so
an external wallet can sign, then submit with 'clawd pay':

  clawd buy myproject.com --years 2 --key 0xabc...
  clawd buy myproject.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}

		p, err := c.InitiatePurchase(ctx, args[0], buyYears)
		if err != nil {
			return fmt.Errorf("initiate purchase: %w", err)
		}
		fmt.Printf("✓ Purchase created\n\n")
		fmt.Printf("  ID:     %s\n", p.ID)
		fmt.Printf("  Domain: %s\n", p.Domain)
		fmt.Printf("  Years:  %d\n", p.Years)
		fmt.Printf("  Amount: %s USDC\n\n", microToUSDC(p.AmountMicro))

		key := walletKey(buyKey)
		if key == "" {
			ch, err := c.GetChallenge(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("fetch challenge: %w", err)
			}
			printChallenge(ch)
			fmt.Printf("\nWhen signed, submit with:\n  clawd pay %s --key <wallet-key>\n", p.ID)
			return nil
		}
		return settle(ctx, c, p.ID, key)
	},
}

func init() {
	buyCmd.Flags().IntVar(&buyYears, "years", 1, "Registration period in years (1-10)")
	buyCmd.Flags().StringVar(&buyKey, "key", "", "Wallet private key hex (or set CLAWD_WALLET_KEY)")
}

// ── pay ──────────────────────────────────────────────────────────────────────

var payKey string

var payCmd = &cobra.Command{
	Use:   "pay <purchase-id>",
	Short: "Sign and submit payment for an existing purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := walletKey(payKey)
		if key == "" {
			return fmt.Errorf("a wallet key is required: use --key or set CLAWD_WALLET_KEY")
		}
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		return settle(context.Background(), c, args[0], key)
	},
}

func init() {
	payCmd.Flags().StringVar(&payKey, "key", "", "Wallet private key hex (or set CLAWD_WALLET_KEY)")
}

// settle fetches the purchase's challenge, signs the EIP-3009 authorization
// with the local wallet key, and submits it.
func settle(ctx context.Context, c *client.Client, purchaseID, keyHex string) error {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return fmt.Errorf("decode wallet key: %w", err)
	}
	kp, err := secp256k1.NewSecp256k1KeyPair(keyBytes)
	if err != nil {
		return fmt.Errorf("load wallet key: %w", err)
	}
	fmt.Printf("Paying from wallet %s\n", kp.Address.String())

	ch, err := c.GetChallenge(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("fetch challenge: %w", err)
	}
	printChallenge(ch)

	chainID, err := chainIDFromNetwork(ch.Network)
	if err != nil {
		return err
	}

	auth := &payment.Authorization{
		From:        kp.Address.String(),
		To:          ch.Recipient,
		Value:       strconv.FormatInt(ch.AmountMicro, 10),
		ValidAfter:  ch.ValidAfter.Unix(),
		ValidBefore: ch.ValidBefore.Unix(),
		Nonce:       ch.Nonce,
	}
	digest, err := auth.Digest(ctx, payment.SigningDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           chainID,
		VerifyingContract: ch.Asset,
	})
	if err != nil {
		return fmt.Errorf("compute signing digest: %w", err)
	}
	sig, err := kp.SignDirect(digest)
	if err != nil {
		return fmt.Errorf("sign authorization: %w", err)
	}

	encoded, err := payment.EncodePayload(&payment.Payload{
		Scheme:        ch.Scheme,
		Network:       ch.Network,
		Signature:     "0x" + hex.EncodeToString(sig.CompactRSV()),
		Authorization: auth,
	})
	if err != nil {
		return err
	}

	fmt.Println("\nSubmitting payment...")
	result, err := c.Pay(ctx, purchaseID, encoded)
	if err != nil {
		return fmt.Errorf("payment failed: %w", err)
	}

	fmt.Printf("\n✓ Payment accepted\n\n")
	fmt.Printf("  State: %s\n", result.State)
	if result.Purchase != nil && result.Purchase.TxHash != "" {
		fmt.Printf("  Tx:    %s\n", result.Purchase.TxHash)
	}
	if result.Domain != nil {
		fmt.Printf("  Domain %s registered, expires %s\n",
			result.Domain.Domain, result.Domain.ExpiresAt.Format("2006-01-02"))
		fmt.Printf("\nNext: clawd dns list %s --wallet %s\n", result.Domain.Domain, result.Domain.OwnerWallet)
	}
	return nil
}

// ── status ───────────────────────────────────────────────────────────────────

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status <purchase-id>",
	Short: "Show the current state of a purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		p, err := c.PurchaseStatus(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get purchase: %w", err)
		}
		if statusFormat == "json" {
			return printJSON(p)
		}
		fmt.Printf("ID:     %s\n", p.ID)
		fmt.Printf("Domain: %s\n", p.Domain)
		fmt.Printf("Years:  %d\n", p.Years)
		fmt.Printf("Amount: %s USDC\n", microToUSDC(p.AmountMicro))
		fmt.Printf("State:  %s\n", p.State)
		if p.Payer != "" {
			fmt.Printf("Payer:  %s\n", p.Payer)
		}
		if p.TxHash != "" {
			fmt.Printf("Tx:     %s\n", p.TxHash)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format: text or json")
}

// ── domains ──────────────────────────────────────────────────────────────────

var domainsCmd = &cobra.Command{
	Use:   "domains <wallet>",
	Short: "List domains owned by a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		domains, err := c.ListDomains(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list domains: %w", err)
		}
		if len(domains) == 0 {
			fmt.Println("No domains owned by this wallet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tEXPIRES\tNAMESERVERS")
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				d.Domain, d.ExpiresAt.Format("2006-01-02"), strings.Join(d.Nameservers, ","))
		}
		return w.Flush()
	},
}

// ── dns ──────────────────────────────────────────────────────────────────────

var dnsWallet string

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Manage DNS records for an owned domain",
}

var dnsListCmd = &cobra.Command{
	Use:   "list <domain>",
	Short: "List DNS records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		records, err := c.ListDNSRecords(context.Background(), args[0], dnsWallet)
		if err != nil {
			return fmt.Errorf("list DNS records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No DNS records.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tCONTENT\tTTL")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Type, r.Name, r.Content, r.TTL)
		}
		return w.Flush()
	},
}

var (
	dnsAddType    string
	dnsAddName    string
	dnsAddContent string
	dnsAddTTL     int
)

var dnsAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Create a DNS record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		id, err := c.CreateDNSRecord(context.Background(), args[0], dnsWallet, client.DNSRecord{
			Type:    dnsAddType,
			Name:    dnsAddName,
			Content: dnsAddContent,
			TTL:     dnsAddTTL,
		})
		if err != nil {
			return fmt.Errorf("create DNS record: %w", err)
		}
		fmt.Printf("✓ Record created: %s\n", id)
		return nil
	},
}

var dnsDeleteCmd = &cobra.Command{
	Use:   "delete <domain> <record-id>",
	Short: "Delete a DNS record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		if err := c.DeleteDNSRecord(context.Background(), args[0], dnsWallet, args[1]); err != nil {
			return fmt.Errorf("delete DNS record: %w", err)
		}
		fmt.Println("✓ Record deleted")
		return nil
	},
}

func init() {
	dnsCmd.PersistentFlags().StringVar(&dnsWallet, "wallet", "", "Owning wallet address")
	_ = dnsCmd.MarkPersistentFlagRequired("wallet")

	dnsAddCmd.Flags().StringVar(&dnsAddType, "type", "A", "Record type (A, AAAA, CNAME, TXT, MX, ...)")
	dnsAddCmd.Flags().StringVar(&dnsAddName, "name", "", "Record name (subdomain; empty for apex)")
	dnsAddCmd.Flags().StringVar(&dnsAddContent, "content", "", "Record content")
	dnsAddCmd.Flags().IntVar(&dnsAddTTL, "ttl", 600, "Record TTL in seconds")
	_ = dnsAddCmd.MarkFlagRequired("content")

	dnsCmd.AddCommand(dnsListCmd)
	dnsCmd.AddCommand(dnsAddCmd)
	dnsCmd.AddCommand(dnsDeleteCmd)
}

// ── ns ───────────────────────────────────────────────────────────────────────

var nsWallet string

var nsCmd = &cobra.Command{
	Use:   "ns <domain> <ns1> <ns2> [ns3...]",
	Short: "Point an owned domain at new nameservers",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		if err := c.UpdateNameservers(context.Background(), args[0], nsWallet, args[1:]); err != nil {
			return fmt.Errorf("update nameservers: %w", err)
		}
		fmt.Printf("✓ Nameservers updated for %s\n", args[0])
		return nil
	},
}

func init() {
	nsCmd.Flags().StringVar(&nsWallet, "wallet", "", "Owning wallet address")
	_ = nsCmd.MarkFlagRequired("wallet")
}

// ── admin ────────────────────────────────────────────────────────────────────

var adminSecret string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator commands for the reconciliation queue",
	Long: `Admin commands require the operator secret (--secret or
CLAWD_ADMIN_SECRET). They inspect and resolve purchases that settled
on-chain but failed at the registrar.`,
}

func adminClient(ctx context.Context) (*client.Client, error) {
	secret := adminSecret
	if secret == "" {
		secret = os.Getenv("CLAWD_ADMIN_SECRET")
	}
	if secret == "" {
		return nil, fmt.Errorf("operator secret is required: use --secret or set CLAWD_ADMIN_SECRET")
	}
	c, err := client.New(serverURL)
	if err != nil {
		return nil, err
	}
	if err := c.AdminLogin(ctx, secret); err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	return c, nil
}

var adminQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List purchases awaiting manual reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := adminClient(ctx)
		if err != nil {
			return err
		}
		purchases, err := c.ReconciliationQueue(ctx)
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}
		if len(purchases) == 0 {
			fmt.Println("Reconciliation queue is empty.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tAMOUNT\tPAYER\tTX")
		for _, p := range purchases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.ID, p.Domain, microToUSDC(p.AmountMicro), p.Payer, p.TxHash)
		}
		return w.Flush()
	},
}

var adminRetryCmd = &cobra.Command{
	Use:   "retry <purchase-id>",
	Short: "Re-run registration for a settled purchase that failed at the registrar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := adminClient(ctx)
		if err != nil {
			return err
		}
		result, err := c.RetryRegistration(ctx, args[0])
		if err != nil {
			return fmt.Errorf("retry registration: %w", err)
		}
		fmt.Printf("✓ Registration retried, state: %s\n", result.State)
		return nil
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminSecret, "secret", "", "Operator secret (or set CLAWD_ADMIN_SECRET)")
	adminCmd.AddCommand(adminQueueCmd)
	adminCmd.AddCommand(adminRetryCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clawd CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clawd %s (Clawd Domains)\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

// walletKey resolves the payer key from the flag or CLAWD_WALLET_KEY.
func walletKey(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("CLAWD_WALLET_KEY")
}

func printChallenge(ch *client.Challenge) {
	fmt.Println("Payment required:")
	fmt.Printf("  Amount:    %s USDC\n", ch.Amount)
	fmt.Printf("  Network:   %s\n", ch.Network)
	fmt.Printf("  Asset:     %s\n", ch.Asset)
	fmt.Printf("  Recipient: %s\n", ch.Recipient)
	fmt.Printf("  Nonce:     %s\n", ch.Nonce)
	fmt.Printf("  Expires:   %s\n", ch.ValidBefore.Format(time.RFC3339))
}

// chainIDFromNetwork parses a CAIP-2 EVM network id like "eip155:8453".
func chainIDFromNetwork(network string) (int64, error) {
	rest, ok := strings.CutPrefix(network, "eip155:")
	if !ok {
		return 0, fmt.Errorf("unsupported network %q: expected eip155:<chain-id>", network)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chain id from %q: %w", network, err)
	}
	return id, nil
}

func microToUSDC(micro int64) string {
	return strconv.FormatFloat(float64(micro)/1e6, 'f', 2, 64)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
