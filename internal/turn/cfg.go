package turn

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/pion/webrtc/v4"
)

type ConfigOptions struct {
	PublicIP     string
	Port         int
	Username     string
	Password     string
	Realm        string
	RelayMinPort uint
	RelayMaxPort uint
}

// ICEServer returns the entry peers put in their ICE server list to relay through this server.
func (o *ConfigOptions) ICEServer() webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:       []string{fmt.Sprintf("turn:%s", net.JoinHostPort(o.PublicIP, strconv.Itoa(o.Port)))},
		Username:   o.Username,
		Credential: o.Password,
	}
}

// Validate checks the options describe a server peers can reach and allocate on.
func (o *ConfigOptions) Validate() error {
	ip := net.ParseIP(o.PublicIP)
	switch {
	case ip == nil:
		return fmt.Errorf("public ip %q is not an IP address", o.PublicIP)
	case ip.IsUnspecified():
		return errors.New("public ip must be the address peers reach the server at, not unspecified")
	case o.Port < 0 || o.Port > 65535:
		return fmt.Errorf("port %d out of range", o.Port)
	case o.Username == "" || o.Password == "":
		return errors.New("username and password are required")
	case o.RelayMinPort == 0 || o.RelayMaxPort > 65535 || o.RelayMinPort > o.RelayMaxPort:
		return fmt.Errorf("relay port range %d-%d is invalid", o.RelayMinPort, o.RelayMaxPort)
	}
	return nil
}
