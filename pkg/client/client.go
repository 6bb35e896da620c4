package client

import (
	"fmt"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/pkg/cip"
	"github.com/fieldspan/enip-adapter/pkg/connmgr"
	"github.com/fieldspan/enip-adapter/pkg/eip"
	"github.com/fieldspan/enip-adapter/pkg/session"
	"github.com/fieldspan/enip-adapter/pkg/transport"
)

// Client is a high-level originator-side EIP client used by the scanner
// conformance harness: it registers a session, negotiates a Forward Open,
// and issues explicit requests against an adapter.
type Client struct {
	session *session.Session
	logger  internal.Logger
}

// NewClient dials address, registers an ENIP session, and returns a Client.
func NewClient(address string, logger internal.Logger) (*Client, error) {
	if logger == nil {
		logger = internal.NopLogger()
	}

	t, err := transport.NewTCPTransport(address)
	if err != nil {
		return nil, err
	}

	s := session.NewSession(t, logger)
	if err := s.Register(); err != nil {
		t.Close()
		return nil, err
	}

	return &Client{session: s, logger: logger}, nil
}

// Close unregisters the session and closes the transport.
func (c *Client) Close() error {
	if err := c.session.Unregister(); err != nil {
		c.logger.Errorf("failed to unregister session: %v", err)
	}
	return c.session.Close()
}

// ListIdentity sends the ListIdentity command.
func (c *Client) ListIdentity() ([]eip.ListIdentityItem, error) {
	return c.session.ListIdentity()
}

// ListServices sends the ListServices command.
func (c *Client) ListServices() ([]eip.ListServicesItem, error) {
	return c.session.ListServices()
}

// ForwardOpen negotiates a Class-1 connection and returns the adapter's
// reply, from which the T→O RPI and connection ids can be read.
func (c *Client) ForwardOpen(req *connmgr.ForwardOpenRequest) (*connmgr.ForwardOpenResponse, error) {
	reqData, err := req.Encode()
	if err != nil {
		return nil, err
	}

	path := cip.NewPath()
	path.AddClass(cip.ClassConnectionMgr)
	path.AddInstance(1)

	cipReq := &cip.MessageRouterRequest{
		Service:     connmgr.ServiceForwardOpen,
		RequestPath: path,
		RequestData: reqData,
	}

	resp, err := c.session.SendCIPRequest(cipReq)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	return connmgr.DecodeForwardOpenResponse(resp.ResponseData)
}

// ForwardClose tears down the connection identified by req.
func (c *Client) ForwardClose(req *connmgr.ForwardCloseRequest) (*connmgr.ForwardCloseResponse, error) {
	reqData, err := req.Encode()
	if err != nil {
		return nil, err
	}

	path := cip.NewPath()
	path.AddClass(cip.ClassConnectionMgr)
	path.AddInstance(1)

	cipReq := &cip.MessageRouterRequest{
		Service:     connmgr.ServiceForwardClose,
		RequestPath: path,
		RequestData: reqData,
	}

	resp, err := c.session.SendCIPRequest(cipReq)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	return connmgr.DecodeForwardCloseResponse(resp.ResponseData)
}

// GetAttributeSingle issues a Get Attribute Single request against path.
func (c *Client) GetAttributeSingle(path cip.Path) ([]byte, error) {
	req := cip.NewGetAttributeSingleRequest(path)
	resp, err := c.session.SendCIPRequest(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.ResponseData, nil
}

// SetAttributeSingle issues a Set Attribute Single request against path.
func (c *Client) SetAttributeSingle(path cip.Path, data []byte) error {
	req := cip.NewSetAttributeSingleRequest(path, data)
	resp, err := c.session.SendCIPRequest(req)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return fmt.Errorf("set attribute single: %w", err)
	}
	return nil
}
