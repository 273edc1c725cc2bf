// Command student-agent is the classroom endpoint: it pairs to a teacher
// server by PIN, then runs the cooperative capture/detection/command loop
// until interrupted.
package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/controledu/classroom/internal/agent"
	"github.com/controledu/classroom/internal/detection"
	"github.com/controledu/classroom/internal/discovery"
	"github.com/controledu/classroom/internal/localstore"
	"github.com/controledu/classroom/internal/secretbox"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

const version = "0.1.0"

func main() {
	var dataDir string

	root := &cobra.Command{
		Use:     "student-agent",
		Short:   "controledu student endpoint agent",
		Version: version,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "directory for the local state database and downloads")

	var baseURLFlag string
	pairCmd := &cobra.Command{
		Use:   "pair",
		Short: "discover (or target) a teacher server and complete PIN pairing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPair(dataDir, baseURLFlag)
		},
	}
	pairCmd.Flags().StringVar(&baseURLFlag, "server", "", "teacher server base URL (e.g. http://192.168.1.20:40556); empty triggers LAN discovery")

	var mlModel, mlMultiModel, localAddr string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the capture/detection/command loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(dataDir, mlModel, mlMultiModel, localAddr)
		},
	}
	runCmd.Flags().StringVar(&mlModel, "ml-binary-model", "", "path to an optional binary ML classifier model (empty disables the binary stage)")
	runCmd.Flags().StringVar(&mlMultiModel, "ml-multiclass-model", "", "path to an optional multiclass ML classifier model")
	runCmd.Flags().StringVar(&localAddr, "local-addr", fmt.Sprintf("127.0.0.1:%d", wire.LocalPort), "loopback listen address for the desktop shell's local HTTP surface; empty disables it")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "print the current binding and last detection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(dataDir)
		},
	}

	root.AddCommand(pairCmd, runCmd, statusCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "controledu-agent")
}

func openLocalStore(dataDir string) (*localstore.Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return localstore.Open(filepath.Join(dataDir, "agent.db"))
}

func openProtector(dataDir string) (secretbox.Protector, error) {
	return secretbox.NewLocalKeyProtector(filepath.Join(dataDir, "keys"))
}

func runPair(dataDir, serverURL string) error {
	if serverURL == "" {
		candidates, err := discovery.Probe(1500 * time.Millisecond)
		if err != nil || len(candidates) == 0 {
			return fmt.Errorf("student-agent: no teacher server found on the LAN; pass --server explicitly")
		}
		serverURL = "http://" + candidates[0].HostPort
		fmt.Printf("discovered %s at %s\n", candidates[0].ServerName, serverURL)
	}

	pin, err := readPin()
	if err != nil {
		return err
	}

	hostName, _ := os.Hostname()
	userName := os.Getenv("USER")
	if userName == "" {
		userName = os.Getenv("USERNAME")
	}

	reqBody, _ := json.Marshal(wire.PairingRequest{
		Pin: pin, HostName: hostName, UserName: userName, OsDescription: osDescription(),
	})
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/pairing/complete", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("student-agent: pairing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("student-agent: pairing rejected (status %d)", resp.StatusCode)
	}
	var pairingResp wire.PairingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pairingResp); err != nil {
		return err
	}

	store, err := openLocalStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	protector, err := openProtector(dataDir)
	if err != nil {
		return err
	}
	protected, err := protector.Protect([]byte(pairingResp.Token))
	if err != nil {
		return err
	}

	err = store.SaveBinding(localstore.Binding{
		ServerID: pairingResp.ServerID, ServerName: pairingResp.ServerName,
		ServerBaseURL: pairingResp.BaseURL, ServerFingerprint: pairingResp.Fingerprint,
		ClientID: pairingResp.ClientID, ProtectedToken: protected,
		UpdatedAtUtc: time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("paired as %s with %s\n", pairingResp.ClientID, pairingResp.ServerName)
	return nil
}

// readPin prompts for the 6-digit pairing PIN with promptui's masked
// entry when stdin is an interactive terminal; otherwise (piped input,
// e.g. scripted/headless provisioning) it falls back to a plain scanned
// line, since promptui's raw-mode masking requires a real TTY.
func readPin() (string, error) {
	validate := func(s string) error {
		if len(s) != 6 {
			return fmt.Errorf("PIN must be 6 digits")
		}
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Enter pairing PIN: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return "", fmt.Errorf("student-agent: no PIN provided on stdin")
		}
		pin := strings.TrimSpace(scanner.Text())
		if err := validate(pin); err != nil {
			return "", err
		}
		return pin, nil
	}

	prompt := promptui.Prompt{Label: "Enter pairing PIN", Validate: validate, Mask: '*'}
	return prompt.Run()
}

func runStatus(dataDir string) error {
	store, err := openLocalStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	binding, ok, err := store.LoadBinding()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not paired")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Server", binding.ServerName})
	table.Append([]string{"Server ID", binding.ServerID})
	table.Append([]string{"Client ID", binding.ClientID})
	table.Append([]string{"Fingerprint", binding.ServerFingerprint})
	table.Append([]string{"Paired at", time.UnixMilli(binding.UpdatedAtUtc).Format(time.RFC3339)})

	if state, ok, _ := store.LoadDetectionState(); ok {
		table.Append([]string{"Last check", time.UnixMilli(state.LastCheckUtc).Format(time.RFC3339)})
		table.Append([]string{"Last class", state.LastResult.Class.String()})
		table.Append([]string{"Last stable", fmt.Sprintf("%v", state.LastResult.IsStable)})
	}
	table.Render()
	return nil
}

func runAgent(dataDir, mlModel, mlMultiModel, localAddr string) error {
	log := telemetry.NewLogger("student-agent", version, nil)

	store, err := openLocalStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	protector, err := openProtector(dataDir)
	if err != nil {
		return err
	}
	if !secretbox.IsProductionSafe(protector) {
		log.Warn("binding token protector is not production-safe")
	}

	binding, ok, err := store.LoadBinding()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("student-agent: not paired; run `student-agent pair` first")
	}

	var binaryClassifier, multiClassifier detection.Classifier
	if mlModel != "" {
		binaryClassifier = detection.NewBinaryClassifier(mlModel, "v1")
	}
	if mlMultiModel != "" {
		multiClassifier = detection.NewMulticlassClassifier(mlMultiModel, "v1", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The loopback surface's bearer token is minted per boot and shared
	// with the desktop shell through a file only this user can read.
	var local *agent.LocalAPI
	if localAddr != "" {
		token, err := randomLocalToken()
		if err != nil {
			return err
		}
		tokenPath := filepath.Join(dataDir, "local-token")
		if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
			return err
		}
		local = agent.NewLocalAPI(token, store, log)
		go func() {
			if err := local.Run(ctx, localAddr); err != nil {
				log.Error(err, "local HTTP surface failed")
			}
		}()
	}

	loop := agent.NewLoop(agent.Config{
		HubWSURL:             toWS(binding.ServerBaseURL) + "/ws/student",
		BaseURL:              binding.ServerBaseURL,
		DownloadDir:          filepath.Join(dataDir, "downloads"),
		Capturer:             placeholderCapturer{},
		Store:                store,
		Protector:            protector,
		Log:                  log,
		BinaryClassifier:     binaryClassifier,
		MulticlassClassifier: multiClassifier,
		Local:                local,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	log.Info("agent loop starting")
	return loop.Run(ctx)
}

func toWS(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func osDescription() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func randomLocalToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
