package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
)

// ErrRateLimited signals an upstream throttle response. Callers inside
// this package retry it with backoff; it escapes only after the retry
// budget is exhausted.
var ErrRateLimited = errors.New("shopify: rate limited")

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	lineItemsPageSize  = 100
)

// Client is a Shopify Admin GraphQL API client
type Client struct {
	BaseURL     string
	AccessToken string
	HttpClient  *http.Client

	// Retry policy for rate-limited calls
	MaxAttempts int
	BaseDelay   time.Duration

	// Replaceable in tests
	sleep func(time.Duration)
}

// NewClient creates a new Shopify client. shopURL accepts either a bare
// domain or a full https:// URL.
func NewClient(shopURL, accessToken, apiVersion string) *Client {
	domain := shopURL
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	domain = strings.TrimSuffix(domain, "/")

	return &Client{
		BaseURL:     fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, apiVersion),
		AccessToken: accessToken,
		HttpClient:  &http.Client{Timeout: 30 * time.Second},
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		sleep:       time.Sleep,
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// GraphQL executes one query with bounded exponential backoff on
// rate-limit responses. Other failures are returned without retry.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	delay := c.BaseDelay
	var lastErr error

	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(delay)
			delay *= 2
		}

		err := c.execute(ctx, query, variables, result)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("giving up after %d attempts: %w", c.MaxAttempts, lastErr)
}

func (c *Client) execute(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gql graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(gql.Errors) > 0 {
		for _, e := range gql.Errors {
			if e.Extensions.Code == "THROTTLED" {
				return ErrRateLimited
			}
		}
		return fmt.Errorf("graphql error: %s", gql.Errors[0].Message)
	}

	if result != nil {
		if err := json.Unmarshal(gql.Data, result); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	return nil
}

// ---- Queries ----

const orderLinesQuery = `
query OrderLines($id: ID!, $first: Int!, $after: String) {
  order(id: $id) {
    id
    name
    createdAt
    lineItems(first: $first, after: $after) {
      edges {
        cursor
        node {
          id
          title
          quantity
          sku
          vendor
          discountedUnitPriceSet { shopMoney { amount } }
          variant {
            id
            barcode
            product { id }
          }
        }
      }
      pageInfo { hasNextPage }
    }
  }
}`

type orderLinesData struct {
	Order *struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
		LineItems struct {
			Edges []struct {
				Cursor string       `json:"cursor"`
				Node   lineItemNode `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
		} `json:"lineItems"`
	} `json:"order"`
}

type lineItemNode struct {
	ID                     string `json:"id"`
	Title                  string `json:"title"`
	Quantity               int    `json:"quantity"`
	SKU                    string `json:"sku"`
	Vendor                 string `json:"vendor"`
	DiscountedUnitPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shopMoney"`
	} `json:"discountedUnitPriceSet"`
	Variant *struct {
		ID      string `json:"id"`
		Barcode string `json:"barcode"`
		Product struct {
			ID string `json:"id"`
		} `json:"product"`
	} `json:"variant"`
}

func (n *lineItemNode) toOrderLine() models.OrderLine {
	line := models.OrderLine{
		LineItemID: n.ID,
		Title:      n.Title,
		SKU:        n.SKU,
		Vendor:     n.Vendor,
		Quantity:   n.Quantity,
		Price:      n.DiscountedUnitPriceSet.ShopMoney.Amount,
	}
	if n.Variant != nil {
		line.VariantID = n.Variant.ID
		line.Barcode = strings.TrimSpace(n.Variant.Barcode)
		line.ProductID = n.Variant.Product.ID
	}
	return line
}

// FetchOrderLines returns the full set of line items for one order,
// following line-item pagination until exhausted. orderRef is an order
// GID or a bare numeric id.
func (c *Client) FetchOrderLines(ctx context.Context, orderRef string) (*models.UpstreamOrder, error) {
	id := orderRef
	if !strings.HasPrefix(id, "gid://") {
		id = "gid://shopify/Order/" + id
	}

	var order *models.UpstreamOrder
	var after interface{}

	for {
		vars := map[string]interface{}{"id": id, "first": lineItemsPageSize}
		if after != nil {
			vars["after"] = after
		}

		var data orderLinesData
		if err := c.GraphQL(ctx, orderLinesQuery, vars, &data); err != nil {
			return nil, err
		}
		if data.Order == nil {
			return nil, fmt.Errorf("order %s not found", orderRef)
		}

		if order == nil {
			order = &models.UpstreamOrder{
				ID:        data.Order.ID,
				Name:      data.Order.Name,
				CreatedAt: data.Order.CreatedAt,
			}
		}

		edges := data.Order.LineItems.Edges
		for _, e := range edges {
			n := e.Node
			order.Lines = append(order.Lines, n.toOrderLine())
		}

		if !data.Order.LineItems.PageInfo.HasNextPage || len(edges) == 0 {
			break
		}
		after = edges[len(edges)-1].Cursor
	}

	return order, nil
}

const ordersSinceQuery = `
query OrdersSince($first: Int!, $after: String, $query: String!) {
  orders(first: $first, after: $after, sortKey: CREATED_AT, reverse: false, query: $query) {
    edges {
      cursor
      node {
        id
        name
        createdAt
        lineItems(first: 100) {
          edges {
            node {
              id
              title
              quantity
              sku
              vendor
              discountedUnitPriceSet { shopMoney { amount } }
              variant {
                id
                barcode
                product { id }
              }
            }
          }
          pageInfo { hasNextPage }
        }
      }
    }
    pageInfo { hasNextPage }
  }
}`

type ordersSinceData struct {
	Orders struct {
		Edges []struct {
			Cursor string `json:"cursor"`
			Node   struct {
				ID        string    `json:"id"`
				Name      string    `json:"name"`
				CreatedAt time.Time `json:"createdAt"`
				LineItems struct {
					Edges []struct {
						Node lineItemNode `json:"node"`
					} `json:"edges"`
					PageInfo struct {
						HasNextPage bool `json:"hasNextPage"`
					} `json:"pageInfo"`
				} `json:"lineItems"`
			} `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

// OrdersPage is one page of an order-listing walk
type OrdersPage struct {
	Orders      []models.UpstreamOrder
	HasNextPage bool
	EndCursor   string
}

// ListOrdersSince returns one page of orders created at or after the
// given bound, oldest first. Pass the previous page's EndCursor to
// continue; an empty cursor starts from the beginning.
func (c *Client) ListOrdersSince(ctx context.Context, since time.Time, pageSize int, cursor string) (*OrdersPage, error) {
	vars := map[string]interface{}{
		"first": pageSize,
		"query": fmt.Sprintf("created_at:>=%s", since.UTC().Format(time.RFC3339)),
	}
	if cursor != "" {
		vars["after"] = cursor
	}

	var data ordersSinceData
	if err := c.GraphQL(ctx, ordersSinceQuery, vars, &data); err != nil {
		return nil, err
	}

	page := &OrdersPage{HasNextPage: data.Orders.PageInfo.HasNextPage}
	for _, edge := range data.Orders.Edges {
		node := edge.Node
		order := models.UpstreamOrder{
			ID:        node.ID,
			Name:      node.Name,
			CreatedAt: node.CreatedAt,
		}
		for _, le := range node.LineItems.Edges {
			n := le.Node
			order.Lines = append(order.Lines, n.toOrderLine())
		}
		// Orders with more than 100 lines finish through the per-order query
		if node.LineItems.PageInfo.HasNextPage {
			full, err := c.FetchOrderLines(ctx, node.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to page line items for %s: %w", node.Name, err)
			}
			order.Lines = full.Lines
		}
		page.Orders = append(page.Orders, order)
		page.EndCursor = edge.Cursor
	}

	return page, nil
}

const inventoryItemQuery = `
query VariantInventoryItem($id: ID!) {
  productVariant(id: $id) {
    inventoryItem { id }
  }
}`

// FetchInventoryItemID resolves a variant to its inventory item id
func (c *Client) FetchInventoryItemID(ctx context.Context, variantID string) (string, error) {
	var data struct {
		ProductVariant *struct {
			InventoryItem struct {
				ID string `json:"id"`
			} `json:"inventoryItem"`
		} `json:"productVariant"`
	}
	if err := c.GraphQL(ctx, inventoryItemQuery, map[string]interface{}{"id": variantID}, &data); err != nil {
		return "", err
	}
	if data.ProductVariant == nil {
		return "", fmt.Errorf("variant %s not found", variantID)
	}
	return data.ProductVariant.InventoryItem.ID, nil
}

const availableQuery = `
query InventoryAvailable($id: ID!) {
  inventoryItem(id: $id) {
    inventoryLevels(first: 50) {
      edges {
        node {
          quantities(names: ["available"]) {
            name
            quantity
          }
        }
      }
    }
  }
}`

// FetchAvailable returns the current available quantity for an inventory
// item, summed across locations. May be negative when oversold.
func (c *Client) FetchAvailable(ctx context.Context, inventoryItemID string) (int, error) {
	var data struct {
		InventoryItem *struct {
			InventoryLevels struct {
				Edges []struct {
					Node struct {
						Quantities []struct {
							Name     string `json:"name"`
							Quantity int    `json:"quantity"`
						} `json:"quantities"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"inventoryLevels"`
		} `json:"inventoryItem"`
	}
	if err := c.GraphQL(ctx, availableQuery, map[string]interface{}{"id": inventoryItemID}, &data); err != nil {
		return 0, err
	}
	if data.InventoryItem == nil {
		return 0, fmt.Errorf("inventory item %s not found", inventoryItemID)
	}

	total := 0
	for _, e := range data.InventoryItem.InventoryLevels.Edges {
		for _, q := range e.Node.Quantities {
			if q.Name == "available" {
				total += q.Quantity
			}
		}
	}
	return total, nil
}

const catalogAttributesQuery = `
query CatalogAttributes($id: ID!) {
  product(id: $id) {
    title
    vendor
    tags
    collections(first: 25) {
      nodes { title }
    }
    metafields(first: 25, namespace: "custom") {
      nodes { key value }
    }
  }
}`

// FetchCatalogAttributes returns the catalog facts the preorder
// classifier votes over
func (c *Client) FetchCatalogAttributes(ctx context.Context, productID string) (*models.CatalogAttributes, error) {
	var data struct {
		Product *struct {
			Title       string   `json:"title"`
			Vendor      string   `json:"vendor"`
			Tags        []string `json:"tags"`
			Collections struct {
				Nodes []struct {
					Title string `json:"title"`
				} `json:"nodes"`
			} `json:"collections"`
			Metafields struct {
				Nodes []struct {
					Key   string `json:"key"`
					Value string `json:"value"`
				} `json:"nodes"`
			} `json:"metafields"`
		} `json:"product"`
	}
	if err := c.GraphQL(ctx, catalogAttributesQuery, map[string]interface{}{"id": productID}, &data); err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("product %s not found", productID)
	}

	attrs := &models.CatalogAttributes{
		Title:      data.Product.Title,
		Vendor:     data.Product.Vendor,
		Tags:       data.Product.Tags,
		Metafields: make(map[string]string, len(data.Product.Metafields.Nodes)),
	}
	for _, col := range data.Product.Collections.Nodes {
		attrs.Collections = append(attrs.Collections, col.Title)
	}
	for _, mf := range data.Product.Metafields.Nodes {
		attrs.Metafields[mf.Key] = mf.Value
	}
	return attrs, nil
}
