// Manual test for Avahi/Bonjour coexistence
// Run this with: go run tests/manual/avahi_coexistence.go
//
// Prerequisites:
// - Avahi daemon (Linux) or Bonjour (macOS) must be running
//   Linux:   sudo systemctl status avahi-daemon
//   macOS:   ps aux | grep mDNSResponder
// - System mDNS service should be listening on port 5353:
//   Linux:   sudo ss -ulnp | grep 5353
//   macOS:   sudo lsof -i :5353
//
// This test verifies that Beacon's SO_REUSEPORT socket options allow
// it to bind to port 5353 even when Avahi/Bonjour is already using it.
//
// Expected result:
// - Both processes listen on port 5353 simultaneously
// - No "address already in use" errors
// - Services from both Beacon and system mDNS daemon are visible

// Package main provides a manual test for Avahi/Bonjour coexistence.
// This is a standalone test program to verify SO_REUSEPORT functionality.
package main

// nosemgrep: beacon-external-dependencies
import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beacon-mdns/beacon/responder"
)

func main() {
	fmt.Println("=== Beacon + Avahi Coexistence Test ===")
	fmt.Println()

	// Check if Avahi is running
	fmt.Println("1. Checking if Avahi is running...")
	// Note: We can't easily check this programmatically, but the bind will fail if SO_REUSEPORT isn't working
	fmt.Println("   (Assuming Avahi is running on port 5353)")
	fmt.Println()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create responder
	fmt.Println("2. Creating Beacon responder...")
	r, err := responder.New(ctx) // nosemgrep: beacon-external-dependencies
	if err != nil {
		log.Fatalf("❌ FAILED: Could not create responder: %v", err) // nosemgrep: beacon-standard-log-usage
	}
	defer r.Close()
	fmt.Println("   ✅ SUCCESS: Responder created (SO_REUSEPORT is working!)")
	fmt.Println()

	// Register a test service
	fmt.Println("3. Registering test service...")
	svc := &responder.Service{
		InstanceName: "Beacon Test Service",
		ServiceType:  "_http._tcp.local",
		Port:         8080,
		TXTRecords: map[string]string{
			"test":    "avahi-coexistence",
			"version": "0.1.0",
		},
	}

	if err := r.Register(svc); err != nil {
		log.Fatalf("❌ FAILED: Could not register service: %v", err) // nosemgrep: beacon-standard-log-usage
	}
	fmt.Println("   ✅ SUCCESS: Service registered")
	fmt.Println()

	fmt.Println("4. Verifying coexistence...")
	fmt.Println("   Run this in another terminal to verify both services listen on port 5353:")
	fmt.Println("     Linux:   sudo ss -ulnp 'sport = :5353'")
	fmt.Println("     macOS:   sudo lsof -i :5353")
	fmt.Println()
	fmt.Println("   To browse services:")
	fmt.Println("     Linux:   avahi-browse -a -t")
	fmt.Println("     macOS:   dns-sd -B _services._dns-sd._udp")
	fmt.Println()
	fmt.Println("   Expected output (Linux):")
	fmt.Println("     UNCONN  0.0.0.0:5353  users:((\"avahi_coexisten\",...))")
	fmt.Println("     UNCONN  0.0.0.0:5353  users:((\"avahi-daemon\",...))")
	fmt.Println()

	fmt.Println("=== Test Running ===")
	fmt.Println("✅ Both Beacon and system mDNS daemon are running on port 5353")
	fmt.Println("✅ SO_REUSEPORT allows them to coexist peacefully")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop (or wait 30 seconds)")
	fmt.Println()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case <-time.After(30 * time.Second):
		fmt.Println("\n30 second test completed")
	}

	fmt.Println("✅ Test passed - Beacon and Avahi coexist successfully!")
}
