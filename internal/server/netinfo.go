package server

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	"github.com/skip2/go-qrcode"
)

// lanInfoTTL bounds how long a discovered address is reused; laptops move
// between networks.
const lanInfoTTL = 5 * time.Minute

type serverInfoResp struct {
	LocalIP string `json:"local_ip"`
	Port    int    `json:"port"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	QRCode  string `json:"qr_code,omitempty"`
	Rooms   int    `json:"rooms"`
}

// lanInfo caches the LAN address and the QR code of the resulting URL.
type lanInfo struct {
	mu       sync.Mutex
	discover func() string
	port     int
	ip       string
	url      string
	qrCode   string
	expires  time.Time
	now      func() time.Time
}

func newLANInfo(discover func() string) *lanInfo {
	return &lanInfo{discover: discover, now: time.Now}
}

// get returns the LAN IP, the URL for port and its QR code as a data URL.
func (l *lanInfo) get(port int) (ip, url, qr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == port && l.now().Before(l.expires) {
		return l.ip, l.url, l.qrCode
	}

	l.port = port
	l.ip = l.discover()
	l.url = fmt.Sprintf("http://%s:%d", l.ip, port)
	l.qrCode = ""
	if png, err := qrcode.Encode(l.url, qrcode.Medium, 256); err == nil {
		l.qrCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	l.expires = l.now().Add(lanInfoTTL)
	return l.ip, l.url, l.qrCode
}

// handleServerInfo handles GET /api/server-info.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	port := listenPort(s.addr, r.Host)
	ip, url, qr := s.lan.get(port)

	writeJSON(w, http.StatusOK, serverInfoResp{
		LocalIP: ip,
		Port:    port,
		Status:  "online",
		URL:     url,
		QRCode:  qr,
		Rooms:   s.roomCount(),
	})
}

// listenPort takes the port from the listen address, falling back to the
// Host header when the address has none (or asked for an ephemeral port).
func listenPort(addr, host string) int {
	for _, candidate := range []string{addr, host} {
		_, p, err := net.SplitHostPort(candidate)
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			return n
		}
	}
	return 80
}

// discoverLocalIP finds the address other machines on the LAN can reach:
// the interface facing the default gateway, else the source address of an
// outbound UDP socket, else loopback.
func discoverLocalIP() string {
	if gw, err := gateway.DiscoverGateway(); err == nil {
		if ip, err := localIPForGateway(gw); err == nil {
			return ip.String()
		}
	}

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer func() { _ = conn.Close() }()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	return "127.0.0.1"
}

// localIPForGateway returns the IPv4 address of the interface whose subnet
// contains gw.
func localIPForGateway(gw net.IP) (net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil || !ipv4.IsGlobalUnicast() {
				continue
			}
			if ipnet.Contains(gw) {
				return ipv4, nil
			}
		}
	}
	return nil, fmt.Errorf("no local IPv4 address in the subnet of gateway %s", gw)
}
