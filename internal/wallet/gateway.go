package wallet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/collabmart/wallet-api/pkg/config"
)

// CheckoutClient talks to the hosted checkout provider. The provider's job
// here is limited to two calls: open a checkout session for a deposit and
// verify the status of one we have not heard back about.
type CheckoutClient struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

func NewCheckoutClient(cfg config.Config) *CheckoutClient {
	return &CheckoutClient{
		BaseURL: cfg.ProviderBaseURL,
		Secret:  cfg.ProviderSecret,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type CheckoutSession struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

func (c *CheckoutClient) CreateCheckoutSession(email string, amount int64, currency, reference, callbackURL string, metadata map[string]interface{}) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"email":        email,
		"amount":       amount,
		"reference":    reference,
		"currency":     currency,
		"callback_url": callbackURL,
		"metadata":     metadata,
	}

	jsonPayload, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", c.BaseURL+"/transaction/initialize", strings.NewReader(string(jsonPayload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var providerResp struct {
		Status  bool            `json:"status"`
		Message string          `json:"message"`
		Data    CheckoutSession `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&providerResp); err != nil {
		return nil, err
	}
	if !providerResp.Status {
		return nil, fmt.Errorf("checkout initialization failed: %s", providerResp.Message)
	}

	return &providerResp.Data, nil
}

func (c *CheckoutClient) VerifySession(reference string) (string, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/transaction/verify/%s", c.BaseURL, reference), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var result struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if !result.Status {
		return "", fmt.Errorf("verification failed: %s", result.Message)
	}

	return result.Data.Status, nil
}
