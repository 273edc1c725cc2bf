// Command teacher-server runs the controledu hub, REST API, and UDP
// discovery responder, and doubles as an admin CLI: revoke, audit,
// students, and passwd work offline against the same SQLite database the
// running server uses; pin talks to the running server, since pending
// PINs only exist in its memory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/controledu/classroom/internal/detection"
	"github.com/controledu/classroom/internal/discovery"
	"github.com/controledu/classroom/internal/eventstore"
	"github.com/controledu/classroom/internal/httpapi"
	"github.com/controledu/classroom/internal/hub"
	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/remotectrl"
	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/transfer"
	"github.com/controledu/classroom/internal/wire"
)

const version = "0.1.0"

func main() {
	var (
		dbPath          string
		addr            string
		baseURL         string
		dataDir         string
		displayName     string
		tracingEndpoint string
		tracingEnabled  bool
	)

	root := &cobra.Command{
		Use:     "teacher-server",
		Short:   "controledu teacher server: hub, REST API, and discovery responder",
		Version: version,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "controledu.db", "SQLite database path")
	root.PersistentFlags().StringVar(&displayName, "name", "Classroom Server", "display name advertised to pairing students")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the hub, REST API, and discovery responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dbPath, addr, baseURL, dataDir, displayName, tracingEnabled, tracingEndpoint)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", fmt.Sprintf(":%d", wire.HubPort), "REST API / WebSocket listen address")
	serveCmd.Flags().StringVar(&baseURL, "base-url", fmt.Sprintf("https://localhost:%d", wire.HubPort), "base URL advertised in ServerIdentity and export links")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory for transfer chunks and detection exports")
	serveCmd.Flags().BoolVar(&tracingEnabled, "tracing", false, "enable OTLP trace export")
	serveCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")

	var pinServerURL, pinAdminPassword string
	pinCmd := &cobra.Command{
		Use:   "pin",
		Short: "mint a pairing PIN on the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPin(pinServerURL, pinAdminPassword)
		},
	}
	pinCmd.Flags().StringVar(&pinServerURL, "server", fmt.Sprintf("http://localhost:%d", wire.HubPort), "base URL of the running teacher server")
	pinCmd.Flags().StringVar(&pinAdminPassword, "admin-password", "", "admin password, if one has been set with passwd")

	revokeCmd := &cobra.Command{
		Use:   "revoke <clientId>",
		Short: "revoke a paired student's binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevoke(dbPath, args[0])
		},
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "print the most recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("take")
			return runAudit(dbPath, n)
		},
	}
	auditCmd.Flags().Int("take", 50, "number of entries to print, newest first")

	studentsCmd := &cobra.Command{
		Use:   "students",
		Short: "list every paired student",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStudents(dbPath)
		},
	}

	passwdCmd := &cobra.Command{
		Use:   "passwd",
		Short: "set the admin password required on the console's administrative routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswd(dbPath)
		},
	}

	root.AddCommand(serveCmd, pinCmd, revokeCmd, auditCmd, studentsCmd, passwdCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(dbPath string) (*storage.Store, error) {
	return storage.New(dbPath)
}

// runPin asks the running server to mint a PIN. Pending PINs live in the
// server process's memory, so minting one offline would produce a code the
// hub could never consume.
func runPin(serverURL, adminPassword string) error {
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/pairing/pin", nil)
	if err != nil {
		return err
	}
	if adminPassword != "" {
		req.Header.Set(wire.AdminPasswordHeader, adminPassword)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("teacher-server: is the server running at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teacher-server: pin request rejected (status %d)", resp.StatusCode)
	}
	var pin wire.PairingPinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return err
	}
	fmt.Printf("PIN: %s (expires %s)\n", pin.Pin, time.UnixMilli(pin.ExpiresAtUtc).Format(time.RFC3339))
	return nil
}

func runPasswd(dbPath string) error {
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Print("New admin password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Print("Repeat: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	if string(pw) != string(confirm) {
		return fmt.Errorf("teacher-server: passwords do not match")
	}
	if err := pairing.SetAdminPassword(st, string(pw)); err != nil {
		return err
	}
	fmt.Println("admin password updated")
	return nil
}

func runRevoke(dbPath, clientID string) error {
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	signingKey, err := pairing.GetOrCreateSigningKey(st)
	if err != nil {
		return err
	}
	mgr, err := pairing.NewManager(st, signingKey, "controledu-teacher")
	if err != nil {
		return err
	}
	if err := mgr.Revoke(clientID, "cli"); err != nil {
		return err
	}
	fmt.Printf("revoked %s\n", clientID)
	return nil
}

func runAudit(dbPath string, take int) error {
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.GetLatestAudit(take)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Action", "Actor", "Details"})
	for _, e := range entries {
		table.Append([]string{
			time.UnixMilli(e.TimestampUtc).Format(time.RFC3339),
			e.Action, e.Actor, e.Details,
		})
	}
	table.Render()
	return nil
}

func runStudents(dbPath string) error {
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	clients, err := st.ListPairedClients()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Client ID", "Host", "User", "OS", "Paired"})
	for _, c := range clients {
		table.Append([]string{
			c.ClientID, c.HostName, c.UserName, c.OsDescription,
			time.UnixMilli(c.CreatedAtUtc).Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func runServe(dbPath, addr, baseURL, dataDir, displayName string, tracingEnabled bool, tracingEndpoint string) error {
	log := telemetry.NewLogger("teacher-server", version, nil)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	transfersDir := filepath.Join(dataDir, "transfers")
	exportsDir := filepath.Join(dataDir, "exports", "detection-exports")
	if err := os.MkdirAll(exportsDir, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}

	st, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	signingKey, err := pairing.GetOrCreateSigningKey(st)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	identity, err := pairing.GetOrCreateServerIdentity(st, displayName)
	if err != nil {
		return fmt.Errorf("server identity: %w", err)
	}
	pairingMgr, err := pairing.NewManager(st, signingKey, identity.ServerID)
	if err != nil {
		return fmt.Errorf("pairing manager: %w", err)
	}

	presence := eventstore.NewPresenceRegistry()
	alerts := eventstore.NewAlertRing()
	chat := eventstore.NewChatRing()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled: tracingEnabled, Endpoint: tracingEndpoint, ServiceName: "teacher-server", SampleRatio: 0.1,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	h := hub.New(st, pairingMgr, presence, alerts, chat, detection.ProductionPolicy(), log, metrics)

	transfers := transfer.New(st, transfersDir, h, log.With("component", "transfer"))
	h.SetTransferSink(transfers)

	remote := remotectrl.New(h, log.With("component", "remotectrl"))
	h.SetRemoteControlSink(remote)

	go remoteControlExpiryLoop(ctx, remote)

	api := httpapi.New(httpapi.Deps{
		Store: st, PairingMgr: pairingMgr, Hub: h, Transfers: transfers, Remote: remote,
		Alerts: alerts, Identity: identity, BaseURL: baseURL, ExportsDir: exportsDir,
		Log: log.With("component", "httpapi"), Metrics: metrics,
	})

	hubPort := wire.HubPort
	if _, port, ok := splitPort(addr); ok {
		hubPort = port
	}
	responder, err := discovery.NewResponder(identity.ServerID, identity.DisplayName, hubPort, log.With("component", "discovery"))
	if err != nil {
		return fmt.Errorf("discovery responder: %w", err)
	}
	go responder.Run()
	defer responder.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	log.Info("listening on " + addr)
	return api.Run(ctx, addr)
}

// remoteControlExpiryLoop periodically sweeps stale pending-approval
// remote-control sessions.
func remoteControlExpiryLoop(ctx context.Context, remote *remotectrl.Service) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remote.ExpireStale()
		}
	}
}

func splitPort(addr string) (host string, port int, ok bool) {
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return h, p, true
}
