package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/ccm-sh/ccm/internal/services"
)

// PortInfo is one listening gateway port.
type PortInfo struct {
	Port       int    `json:"port"`
	SessionID  string `json:"sessionId"`
	PID        int    `json:"pid,omitempty"`
	WindowName string `json:"windowName,omitempty"`
}

// PortsHandler reports which ports the gateway range currently holds.
type PortsHandler struct {
	allocator *services.PortAllocator
	gateway   *services.GatewayService
}

// NewPortsHandler creates the handler over the shared allocator.
func NewPortsHandler(allocator *services.PortAllocator, gateway *services.GatewayService) *PortsHandler {
	return &PortsHandler{allocator: allocator, gateway: gateway}
}

// Snapshot joins allocator leases with live gateway instances. A lease
// without an instance still shows up, which surfaces a gateway mid-spawn.
func (h *PortsHandler) Snapshot() map[string]any {
	leases := h.allocator.Leases()
	instances := h.gateway.All()

	byPort := make(map[int]PortInfo, len(leases))
	for port, sid := range leases {
		byPort[port] = PortInfo{Port: port, SessionID: sid}
	}
	for _, inst := range instances {
		byPort[inst.Port] = PortInfo{
			Port:       inst.Port,
			SessionID:  inst.SessionID,
			PID:        inst.PID,
			WindowName: inst.WindowName,
		}
	}

	ports := make([]PortInfo, 0, len(byPort))
	for _, info := range byPort {
		ports = append(ports, info)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })

	return map[string]any{"ports": ports}
}

// List handles GET /v1/ports.
func (h *PortsHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.Snapshot())
}
