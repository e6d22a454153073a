// Command btprovctl is a BLE central-role debug tool: it plays the
// "provisioning peer" side of the protocol btprovd serves, for
// operators validating a provisioning agent without a phone app.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	log.SetFlags(0)

	fmt.Println("btprovd Provisioning Peer Tool")
	fmt.Println("==============================")

	peer, err := NewPeerHandler()
	if err != nil {
		log.Fatalf("failed to initialize BLE: %v", err)
	}
	defer func() {
		if err := peer.Disconnect(); err != nil {
			log.Printf("error during disconnect: %v", err)
		}
	}()

	menu := NewMenu(peer)
	if err := menu.Run(); err != nil {
		log.Printf("menu error: %v", err)
		os.Exit(1)
	}
}

// Menu drives the interactive CLI loop against a PeerHandler.
type Menu struct {
	peer   *PeerHandler
	reader *bufio.Reader
}

func NewMenu(peer *PeerHandler) *Menu {
	return &Menu{peer: peer, reader: bufio.NewReader(os.Stdin)}
}

func (m *Menu) Run() error {
	for {
		m.printMainMenu()
		choice := m.readInput("Select an option: ")

		switch choice {
		case "1":
			if err := m.scanAndConnect(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "2":
			if err := m.viewIdentity(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "3":
			if err := m.scanWifi(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "4":
			if err := m.configureWifi(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "5":
			if err := m.viewState(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "6":
			if err := m.waitForStateChange(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "7":
			if err := m.setSetupToken(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "8":
			m.peer.Disconnect()
			fmt.Println("goodbye")
			return nil
		default:
			fmt.Println("invalid option")
		}
		fmt.Println()
	}
}

func (m *Menu) printMainMenu() {
	fmt.Println("\n==============================")
	fmt.Println("  btprovd Provisioning Peer Tool")
	fmt.Println("==============================")
	if m.peer.IsConnected() {
		fmt.Println("status: connected")
	} else {
		fmt.Println("status: not connected")
	}
	fmt.Println("------------------------------")
	fmt.Println("1. Scan and connect to a peer")
	fmt.Println("2. Read identity (DSN/DUID)")
	fmt.Println("3. Scan for Wi-Fi networks")
	fmt.Println("4. Connect to a Wi-Fi network")
	fmt.Println("5. Read current Wi-Fi state")
	fmt.Println("6. Wait for state notification")
	fmt.Println("7. Write setup token")
	fmt.Println("8. Exit")
	fmt.Println("------------------------------")
}

func (m *Menu) scanAndConnect() error {
	peers, err := m.peer.Scan(5 * time.Second)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("no provisioning peers found")
		return nil
	}

	fmt.Println("\nfound peers:")
	for i, p := range peers {
		fmt.Printf("%d. %s\n", i+1, p.Name)
		fmt.Printf("   address: %s, RSSI: %d dBm\n", p.Address, p.RSSI)
	}

	choice := m.readInput(fmt.Sprintf("\nselect peer (1-%d): ", len(peers)))
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(peers) {
		return fmt.Errorf("invalid selection")
	}
	return m.peer.Connect(peers[idx-1])
}

func (m *Menu) viewIdentity() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	dsn, err := m.peer.ReadDSN()
	if err != nil {
		return err
	}
	duid, err := m.peer.ReadDUID()
	if err != nil {
		return err
	}
	fmt.Printf("DSN:  %s\n", dsn)
	fmt.Printf("DUID: %s\n", duid)
	return nil
}

func (m *Menu) scanWifi() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	if err := m.peer.TriggerScan(); err != nil {
		return err
	}
	fmt.Println("scan triggered, reading results...")
	entries, err := m.peer.ReadResultsUntilTerminator(15 * time.Second)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no networks found")
		return nil
	}
	for _, e := range entries {
		idx, ssid, _, rssi, sec, ok := decodeScanResult(e)
		if !ok {
			continue
		}
		fmt.Printf("%d. %-32s RSSI %4d dBm  %s\n", idx, ssid, rssi, securityName(sec))
	}
	return nil
}

func (m *Menu) configureWifi() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	ssid := m.readInput("SSID: ")
	key := m.readInput("Passphrase (blank for open): ")
	bssid := m.readInput("BSSID (blank to let the peer choose): ")

	security := byte(2) // WPA
	if key == "" {
		security = 0 // Open
	}
	payload := buildConnectPayload(ssid, bssid, key, security)
	return m.peer.WriteConnect(payload)
}

func (m *Menu) viewState() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	buf, err := m.peer.ReadState()
	if err != nil {
		return err
	}
	ssid, errByte, state, ok := decodeStatePayload(buf)
	if !ok {
		return fmt.Errorf("malformed state payload")
	}
	fmt.Printf("SSID:  %s\n", ssid)
	fmt.Printf("state: %s\n", wifiStateName(state))
	fmt.Printf("error: %d\n", errByte)
	return nil
}

func (m *Menu) waitForStateChange() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	fmt.Println("waiting up to 60s for a state notification...")
	buf, err := m.peer.WaitForStateNotification(60 * time.Second)
	if err != nil {
		return err
	}
	ssid, errByte, state, ok := decodeStatePayload(buf)
	if !ok {
		return fmt.Errorf("malformed state payload")
	}
	fmt.Printf("SSID:  %s\n", ssid)
	fmt.Printf("state: %s\n", wifiStateName(state))
	fmt.Printf("error: %d\n", errByte)
	return nil
}

func (m *Menu) setSetupToken() error {
	if !m.peer.IsConnected() {
		return fmt.Errorf("not connected")
	}
	token := m.readInput("Setup token: ")
	return m.peer.WriteSetupToken([]byte(strings.TrimSpace(token)))
}

func (m *Menu) readInput(prompt string) string {
	fmt.Print(prompt)
	line, _ := m.reader.ReadString('\n')
	return strings.TrimSpace(line)
}
