package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	ips := []net.IP{net.IPv4(192, 168, 1, 20)}

	service, err := Service("studio", "studio.local.", 8080, ips)
	require.NoError(t, err)

	assert.Equal(t, "studio", service.Instance)
	assert.Equal(t, ServiceType, service.Service)
	assert.Equal(t, 8080, service.Port)
	assert.Equal(t, ips, service.IPs)
	assert.Equal(t, []string{"drawsync"}, service.TXT)
}

func TestService_MissingPort(t *testing.T) {
	_, err := Service("studio", "studio.local.", 0, []net.IP{net.IPv4(127, 0, 0, 1)})
	assert.Error(t, err)
}

func TestFirstIPv4(t *testing.T) {
	assert.NotNil(t, firstIPv4().To4())
}
