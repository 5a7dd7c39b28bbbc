package v1

// Client is the typed surface over the ordering API.
type Client struct {
	Transport *Transport
	Orders    *OrderEndpoint
	Payments  *PaymentEndpoint
}

// NewClient initializes the API client for one tenant.
func NewClient(baseURL, tenant string, token TokenSource) *Client {
	t := NewTransport(baseURL, tenant, token)
	return &Client{
		Transport: t,
		Orders:    &OrderEndpoint{transport: t},
		Payments:  &PaymentEndpoint{transport: t},
	}
}
