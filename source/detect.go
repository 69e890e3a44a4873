package source

import (
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// Board identifies a USB-serial bridge commonly found on boards that
// stream pulse sensor readings.
type Board struct {
	VendorID  uint16
	ProductID uint16
	Name      string
}

var knownBoards = []Board{
	{0x2341, 0x0043, "Arduino Uno"},
	{0x2341, 0x0001, "Arduino Uno (old)"},
	{0x2341, 0x8036, "Arduino Leonardo"},
	{0x2341, 0x805a, "Arduino Nano 33 BLE"},
	{0x1a86, 0x7523, "CH340"},
	{0x1a86, 0x55d4, "CH9102 (M5Stack)"},
	{0x10c4, 0xea60, "CP210x"},
	{0x0403, 0x6001, "FTDI FT232R"},
	{0x303a, 0x1001, "ESP32-S3"},
	{0x2e8a, 0x000a, "Raspberry Pi Pico"},
}

// RegisterBoard adds a VID/PID pair to the serial auto-detection list.
func RegisterBoard(vendorID, productID uint16, name string) {
	knownBoards = append(knownBoards, Board{VendorID: vendorID, ProductID: productID, Name: name})
}

// LookupBoard returns the known board with the given VID/PID.
func LookupBoard(vendorID, productID uint16) (Board, bool) {
	for _, b := range knownBoards {
		if b.VendorID == vendorID && b.ProductID == productID {
			return b, true
		}
	}
	return Board{}, false
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name      string
	VendorID  uint16
	ProductID uint16
	Serial    string
	Product   string
	Board     string // Known board name, empty if not recognized
}

// ListPorts enumerates serial ports and marks known boards.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		info := PortInfo{
			Name:    port.Name,
			Serial:  port.SerialNumber,
			Product: port.Product,
		}
		if port.IsUSB {
			info.VendorID, info.ProductID = parseUSBID(port.VID, port.PID)
			if b, ok := LookupBoard(info.VendorID, info.ProductID); ok {
				info.Board = b.Name
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// FindSerialPort returns the first port whose VID/PID is a known board.
func FindSerialPort() (*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	// Boards are tried in list order, so earlier entries win.
	for _, board := range knownBoards {
		for _, port := range ports {
			if !port.IsUSB {
				continue
			}
			vid, pid := parseUSBID(port.VID, port.PID)
			if vid == board.VendorID && pid == board.ProductID {
				return port, nil
			}
		}
	}
	return nil, ErrNoDevice
}

// parseUSBID converts the hex strings reported by the enumerator.
func parseUSBID(vid, pid string) (uint16, uint16) {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return 0, 0
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return 0, 0
	}
	return uint16(v), uint16(p)
}
