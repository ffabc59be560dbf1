// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	mr "math/rand"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/syncspirit/syncspirit/lib/db"
	"github.com/syncspirit/syncspirit/lib/model"
	"github.com/syncspirit/syncspirit/lib/protocol"
	_ "go.uber.org/automaxprocs"
)

// cli is the stvanity command line: a small toolbox exercising the
// library directly, the way an operator would before wiring up a full
// daemon -- generate or validate a device ID, run a store's migrations,
// or inspect what one holds.
var cli struct {
	Vanity vanityCmd `cmd:"" help:"Search for a device certificate with a vanity device ID prefix."`

	Device struct {
		Generate deviceGenerateCmd `cmd:"" help:"Generate a fresh device certificate and print its device ID."`
		Validate deviceValidateCmd `cmd:"" help:"Validate a device ID's check digits."`
	} `cmd:"" help:"Device ID generation and validation."`

	Migrate migrateCmd `cmd:"" help:"Open a store at the given path, running any pending schema migrations."`

	Inspect inspectCmd `cmd:"" help:"Print a summary of a store's persisted devices and pending folder offers."`
}

type vanityCmd struct {
	Prefix string `arg:"" optional:"" help:"Device ID prefix to search for (dashes ignored)."`
}

func (c *vanityCmd) Run() error {
	runVanity(c.Prefix)
	return nil
}

type deviceGenerateCmd struct{}

func (c *deviceGenerateCmd) Run() error { return runDeviceGenerate() }

type deviceValidateCmd struct {
	ID string `arg:"" help:"Device ID to validate (dashes/spaces ignored)."`
}

func (c *deviceValidateCmd) Run() error { return runDeviceValidate(c.ID) }

type migrateCmd struct {
	Path string `arg:"" help:"Path to the store directory to open and migrate."`
}

func (c *migrateCmd) Run() error { return runMigrate(c.Path) }

type inspectCmd struct {
	Path string `arg:"" help:"Path to the store directory to inspect."`
}

func (c *inspectCmd) Run() error { return runInspect(c.Path) }

func main() {
	ctx := kong.Parse(&cli, kong.Description("Exercise the syncspirit library: vanity device IDs, device ID validation, store migration, and cluster inspection."))
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDeviceGenerate creates a throwaway device certificate (no vanity
// search) purely to print and save the resulting device ID, for
// operators who don't need a particular prefix.
func runDeviceGenerate() error {
	priv, derBytes, err := generateCertificate()
	if err != nil {
		return err
	}
	id := protocol.NewDeviceID(derBytes)
	fmt.Println("Device ID:", id.String())
	saveCert(priv, derBytes)
	fmt.Println("Saved to cert.pem, key.pem")
	return nil
}

// runDeviceValidate reports whether id carries correct Luhn check
// digits, using the same parser the wire protocol uses to accept
// ClusterConfig device IDs.
func runDeviceValidate(id string) error {
	parsed, err := protocol.DeviceIDFromString(id)
	if err != nil {
		fmt.Printf("%s: invalid (%v)\n", id, err)
		return err
	}
	fmt.Printf("%s: valid, canonical form %s\n", id, parsed.String())
	return nil
}

// runMigrate opens (and thereby migrates) the store at path, surfacing a
// downgrade-refused error distinctly since it is the one startup failure
// an operator cannot simply retry.
func runMigrate(path string) error {
	store, err := db.Open(path)
	if err != nil {
		var dbErr *db.Error
		if errors.As(err, &dbErr) && dbErr.Kind == db.KindCannotDowngradeDB {
			return fmt.Errorf("refusing to downgrade the store at %s: %w", path, err)
		}
		return fmt.Errorf("migrating %s: %w", path, err)
	}
	defer store.Close()
	fmt.Println("Store migrated successfully:", path)
	return nil
}

// runInspect opens the store at path, counts its persisted devices and
// pending folder offers, and prints a summary. The records are counted
// only; they are not loaded into the cluster, which stays empty. It also
// starts a PeerServices supervisor over that fresh, peer-less cluster for
// the duration of the command.
func runInspect(path string) error {
	store, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer store.Close()

	var local protocol.DeviceID
	cluster := model.NewCluster(local, time.Now().UnixNano(), 64)

	deviceCount := 0
	if err := store.ForEachDevice(func(id protocol.DeviceID, rec *db.DeviceRecord) bool {
		deviceCount++
		return true
	}); err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	folderCount := 0
	if err := store.ForEachPendingFolder(func(folder string, device protocol.DeviceID, rec *db.PendingFolderRecord) bool {
		folderCount++
		return true
	}); err != nil {
		return fmt.Errorf("listing pending folders: %w", err)
	}

	ps := model.NewPeerServices(cluster, time.Second)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ps.Serve(runCtx) }()

	fmt.Printf("Store: %s\n", path)
	fmt.Printf("Known devices: %d\n", deviceCount)
	fmt.Printf("Pending folder offers: %d\n", folderCount)
	fmt.Printf("Cluster tainted: %v\n", cluster.IsTainted())

	cancel()
	<-done
	return nil
}

func runVanity(prefix string) {
	prefix = strings.ToUpper(strings.ReplaceAll(prefix, "-", ""))
	if len(prefix) > 7 {
		prefix = prefix[:7] + "-" + prefix[7:]
	}

	found := make(chan result)
	stop := make(chan struct{})
	var count int64

	// Print periodic progress reports.
	go printProgress(prefix, &count)

	// Run one certificate generator per CPU core.
	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(-1); i++ {
		wg.Add(1)
		go func() {
			generatePrefixed(prefix, &count, found, stop)
			wg.Done()
		}()
	}

	// Save the result, when one has been found.
	res := <-found
	close(stop)
	wg.Wait()

	fmt.Println("Found", res.id)
	saveCert(res.priv, res.derBytes)
	fmt.Println("Saved to cert.pem, key.pem")
}

type result struct {
	id       protocol.DeviceID
	priv     *ecdsa.PrivateKey
	derBytes []byte
}

func generateCertificate() (*ecdsa.PrivateKey, []byte, error) {
	notBefore := time.Now()
	notAfter := time.Date(2049, 12, 31, 23, 59, 59, 0, time.UTC)

	template := x509.Certificate{
		SerialNumber: new(big.Int).SetInt64(mr.Int63()),
		Subject: pkix.Name{
			CommonName: "syncspirit",
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, derBytes, nil
}

// Try certificates until one is found that has the prefix at the start of
// the resulting device ID. Increments count atomically, sends the result to
// found, returns when stop is closed.
func generatePrefixed(prefix string, count *int64, found chan<- result, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		priv, derBytes, err := generateCertificate()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		id := protocol.NewDeviceID(derBytes)
		atomic.AddInt64(count, 1)

		if strings.HasPrefix(id.String(), prefix) {
			select {
			case found <- result{id, priv, derBytes}:
			case <-stop:
			}
			return
		}
	}
}

func printProgress(prefix string, count *int64) {
	started := time.Now()
	wantBits := 5 * len(prefix)
	if wantBits > 63 {
		fmt.Printf("Want %d bits for prefix %q, refusing to boil the ocean.\n", wantBits, prefix)
		os.Exit(1)
	}
	expectedIterations := float64(int(1) << uint(wantBits))
	fmt.Printf("Want %d bits for prefix %q, about %.2g certs to test (statistically speaking)\n", wantBits, prefix, expectedIterations)

	for range time.NewTicker(15 * time.Second).C {
		tried := atomic.LoadInt64(count)
		elapsed := time.Since(started)
		rate := float64(tried) / elapsed.Seconds()
		expected := timeStr(expectedIterations / rate)
		fmt.Printf("Trying %.0f certs/s, tested %d so far in %v, expect ~%s total time to complete\n", rate, tried, elapsed/time.Second*time.Second, expected)
	}
}

func saveCert(priv *ecdsa.PrivateKey, derBytes []byte) {
	certOut, err := os.Create("cert.pem")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	err = pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	err = certOut.Close()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	keyOut, err := os.OpenFile("key.pem", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	b, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	err = pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: b})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	err = keyOut.Close()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func timeStr(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.0fs", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%.0fm", seconds/60)
	}
	if seconds < 86400 {
		return fmt.Sprintf("%.0fh", seconds/3600)
	}
	if seconds < 86400*365 {
		return fmt.Sprintf("%.0f days", seconds/86400)
	}
	return fmt.Sprintf("%.0f years", seconds/86400/365)
}
