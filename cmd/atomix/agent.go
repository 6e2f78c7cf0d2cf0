package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/atomix/pkg/config"
	"github.com/cuemby/atomix/pkg/log"
	"github.com/cuemby/atomix/pkg/metrics"
	"github.com/cuemby/atomix/pkg/partition"
	"github.com/cuemby/atomix/pkg/raft"
	"github.com/cuemby/atomix/pkg/security"
	"github.com/cuemby/atomix/pkg/storage"
	"github.com/cuemby/atomix/pkg/transport"
	"github.com/cuemby/atomix/pkg/types"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run this node as an Atomix cluster member",
	Long: `agent loads a partition-group configuration file, stands up
every partition this member hosts (storage, Raft replica, session
manager, and client-facing router), and serves them until interrupted.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("member-id", "", "this member's ID (required, must match an entry in the config file)")
	agentCmd.Flags().String("config", "atomix.yaml", "path to the partition-group configuration file")
	agentCmd.Flags().String("data-dir", "./data", "directory for Raft logs, snapshots, and certificates")
	agentCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics, /health, /ready, /live on")
	_ = agentCmd.MarkFlagRequired("member-id")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	memberIDFlag, _ := cmd.Flags().GetString("member-id")
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	memberID := types.MemberID(memberIDFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger := log.WithReplica(memberIDFlag)
	metrics.SetVersion(Version)

	cert, caPool, err := loadMemberIdentity(memberID, dataDir, cfg)
	if err != nil {
		return fmt.Errorf("load TLS identity: %w", err)
	}
	metrics.RegisterComponent("transport", true, "member certificate issued")

	node, err := partition.NewNode(partition.NodeConfig{
		MemberID: memberID,
		Config:   cfg,
		DataDir:  dataDir,
		Options:  raft.DefaultOptions(),
		Logger:   logger,
		NewTransport: func(addr string) (transport.Transport, error) {
			return transport.NewGRPCTransport(addr, cert, caPool)
		},
	})
	if err != nil {
		return fmt.Errorf("wire partition groups: %w", err)
	}
	if len(node.Groups()) == 0 {
		return fmt.Errorf("member %q is not listed in any partition group in %s", memberID, configPath)
	}
	metrics.RegisterComponent("storage", true, "partition storage opened")
	metrics.RegisterComponent("raft", false, "starting")
	for _, g := range node.Groups() {
		metrics.RegisterComponent(fmt.Sprintf("partition.%s", g.Key), false, "starting")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start partition groups: %w", err)
	}
	metrics.RegisterComponent("raft", true, "serving")
	for _, g := range node.Groups() {
		metrics.RegisterComponent(fmt.Sprintf("partition.%s", g.Key), true, "serving")
	}

	srv := &http.Server{Addr: metricsAddr}
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server error")
	}

	cancel()
	node.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

// loadMemberIdentity bootstraps (or loads) the cluster CA under dataDir
// and issues this member a certificate for its configured addresses.
// The encryption key gating the CA's persisted private key is derived
// from the management partition group's name, the closest thing Atomix
// has to a single cluster identifier.
func loadMemberIdentity(memberID types.MemberID, dataDir string, cfg config.Config) (tls.Certificate, *x509.CertPool, error) {
	clusterID := "atomix-cluster"
	if mg, ok := cfg.ManagementGroup(); ok {
		clusterID = mg.Name
	}
	key := security.DeriveKeyFromClusterID(clusterID)
	if err := security.SetClusterEncryptionKey(key); err != nil {
		return tls.Certificate{}, nil, err
	}

	store, err := storage.OpenBoltCAStore(dataDir)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("open CA store: %w", err)
	}
	defer store.Close()

	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("persist CA: %w", err)
		}
	}

	dnsNames, ips := memberSANs(cfg, memberID)
	cert, err := ca.IssueMemberCertificate(string(memberID), dnsNames, ips)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("issue member certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	rootDER := ca.GetRootCACert()
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("parse root CA: %w", err)
	}
	caPool.AddCert(rootCert)

	return *cert, caPool, nil
}

// memberSANs collects every address this member binds across its
// hosted partition groups, split into DNS names and IPs the way
// x509.CreateCertificate expects.
func memberSANs(cfg config.Config, memberID types.MemberID) ([]string, []net.IP) {
	seen := make(map[string]bool)
	var dnsNames []string
	var ips []net.IP
	for _, group := range cfg.Groups {
		for _, m := range group.Members {
			if types.MemberID(m.ID) != memberID {
				continue
			}
			host, _, err := net.SplitHostPort(m.Address)
			if err != nil {
				host = m.Address
			}
			if seen[host] {
				continue
			}
			seen[host] = true
			if ip := net.ParseIP(host); ip != nil {
				ips = append(ips, ip)
			} else {
				dnsNames = append(dnsNames, host)
			}
		}
	}
	return dnsNames, ips
}
