// Package amazon provides a Product Advertising API 5.0 client for price
// lookups, with failures classified into rate-limited, transient, and
// permanent errors.
package amazon

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for failure classification.
var (
	// ErrRateLimited indicates the API refused the call for quota reasons.
	ErrRateLimited = errors.New("amazon: request rate limited")
	// ErrItemNotFound indicates the ASIN no longer resolves to a product;
	// retrying will not help.
	ErrItemNotFound = errors.New("amazon: item not found")
	// ErrUnavailable indicates a transient service or network problem.
	ErrUnavailable = errors.New("amazon: service unavailable")
)

// marketplace holds the per-region API endpoint data.
type marketplace struct {
	Host        string
	Marketplace string
	AWSRegion   string
	Domain      string
}

var marketplaces = map[string]marketplace{
	"IT": {"webservices.amazon.it", "www.amazon.it", "eu-west-1", "amazon.it"},
	"US": {"webservices.amazon.com", "www.amazon.com", "us-east-1", "amazon.com"},
	"UK": {"webservices.amazon.co.uk", "www.amazon.co.uk", "eu-west-1", "amazon.co.uk"},
	"DE": {"webservices.amazon.de", "www.amazon.de", "eu-west-1", "amazon.de"},
	"FR": {"webservices.amazon.fr", "www.amazon.fr", "eu-west-1", "amazon.fr"},
	"ES": {"webservices.amazon.es", "www.amazon.es", "eu-west-1", "amazon.es"},
	"CA": {"webservices.amazon.ca", "www.amazon.ca", "us-east-1", "amazon.ca"},
	"JP": {"webservices.amazon.co.jp", "www.amazon.co.jp", "us-west-2", "amazon.co.jp"},
	"AU": {"webservices.amazon.com.au", "www.amazon.com.au", "us-west-2", "amazon.com.au"},
}

// Quote is a successful price lookup result.
type Quote struct {
	ASIN     string
	Title    string
	URL      string
	Price    float64
	Currency string
}

// Client calls the Product Advertising API for one marketplace region.
type Client struct {
	accessKey    string
	secretKey    string
	associateTag string
	mkt          marketplace
	httpClient   *http.Client

	// endpoint overrides the API URL; used by tests.
	endpoint string
	nowFunc  func() time.Time
}

// NewClient creates a client for the given marketplace region.
// An unknown region is a configuration error.
func NewClient(accessKey, secretKey, associateTag, region string, timeout time.Duration) (*Client, error) {
	mkt, ok := marketplaces[region]
	if !ok {
		return nil, fmt.Errorf("unsupported marketplace region: %q", region)
	}
	return &Client{
		accessKey:    accessKey,
		secretKey:    secretKey,
		associateTag: associateTag,
		mkt:          mkt,
		httpClient:   &http.Client{Timeout: timeout},
		endpoint:     "https://" + mkt.Host,
		nowFunc:      time.Now,
	}, nil
}

const (
	getItemsPath   = "/paapi5/getitems"
	getItemsTarget = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.GetItems"
)

type getItemsRequest struct {
	ItemIds     []string `json:"ItemIds"`
	Resources   []string `json:"Resources"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
}

type getItemsResponse struct {
	ItemsResult struct {
		Items []struct {
			ASIN          string `json:"ASIN"`
			DetailPageURL string `json:"DetailPageURL"`
			ItemInfo      struct {
				Title struct {
					DisplayValue string `json:"DisplayValue"`
				} `json:"Title"`
			} `json:"ItemInfo"`
			Offers struct {
				Listings []struct {
					Price struct {
						Amount   float64 `json:"Amount"`
						Currency string  `json:"Currency"`
					} `json:"Price"`
				} `json:"Listings"`
			} `json:"Offers"`
		} `json:"Items"`
	} `json:"ItemsResult"`
	Errors []struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Errors"`
}

// Query fetches the current price for one ASIN.
func (c *Client) Query(ctx context.Context, asin string) (Quote, error) {
	payload, err := json.Marshal(getItemsRequest{
		ItemIds:     []string{asin},
		Resources:   []string{"ItemInfo.Title", "Offers.Listings.Price"},
		PartnerTag:  c.associateTag,
		PartnerType: "Associates",
		Marketplace: c.mkt.Marketplace,
	})
	if err != nil {
		return Quote{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+getItemsPath, bytes.NewReader(payload))
	if err != nil {
		return Quote{}, fmt.Errorf("failed to build request: %w", err)
	}
	timestamp := c.nowFunc().UTC().Format("20060102T150405Z")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "amz-1.0")
	req.Header.Set("X-Amz-Target", getItemsTarget)
	req.Header.Set("X-Amz-Date", timestamp)
	req.Header.Set("Host", c.mkt.Host)
	req.Header.Set("Authorization", c.sign(getItemsPath, payload, timestamp))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Quote{}, ErrRateLimited
	case resp.StatusCode >= 500:
		return Quote{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, ErrItemNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var parsed getItemsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, apiErr := range parsed.Errors {
		switch apiErr.Code {
		case "ItemNotAccessible", "InvalidParameterValue":
			return Quote{}, fmt.Errorf("%w: %s", ErrItemNotFound, apiErr.Message)
		case "TooManyRequests":
			return Quote{}, ErrRateLimited
		default:
			return Quote{}, fmt.Errorf("%w: %s: %s", ErrUnavailable, apiErr.Code, apiErr.Message)
		}
	}

	if len(parsed.ItemsResult.Items) == 0 {
		return Quote{}, ErrItemNotFound
	}
	item := parsed.ItemsResult.Items[0]
	if len(item.Offers.Listings) == 0 {
		// Listed but without a buyable offer; treat as transient since
		// offers come and go.
		return Quote{}, fmt.Errorf("%w: no offer listing for %s", ErrUnavailable, asin)
	}

	url := item.DetailPageURL
	if url == "" {
		url = c.AffiliateLink(asin)
	}

	listing := item.Offers.Listings[0]
	return Quote{
		ASIN:     item.ASIN,
		Title:    item.ItemInfo.Title.DisplayValue,
		URL:      url,
		Price:    listing.Price.Amount,
		Currency: listing.Price.Currency,
	}, nil
}

// sign produces the AWS Signature Version 4 authorization header for a
// PA-API POST request.
func (c *Client) sign(uri string, payload []byte, timestamp string) string {
	payloadHash := sha256.Sum256(payload)
	canonicalHeaders := fmt.Sprintf("host:%s\nx-amz-date:%s\n", c.mkt.Host, timestamp)
	signedHeaders := "host;x-amz-date"

	canonicalRequest := fmt.Sprintf("POST\n%s\n\n%s\n%s\n%s",
		uri, canonicalHeaders, signedHeaders, hex.EncodeToString(payloadHash[:]))

	const algorithm = "AWS4-HMAC-SHA256"
	date := timestamp[:8]
	credentialScope := fmt.Sprintf("%s/%s/ProductAdvertisingAPI/aws4_request", date, c.mkt.AWSRegion)
	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%s",
		algorithm, timestamp, credentialScope, hex.EncodeToString(requestHash[:]))

	kDate := hmacSHA256([]byte("AWS4"+c.secretKey), date)
	kRegion := hmacSHA256(kDate, c.mkt.AWSRegion)
	kService := hmacSHA256(kRegion, "ProductAdvertisingAPI")
	kSigning := hmacSHA256(kService, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, c.accessKey, credentialScope, signedHeaders, signature)
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}
