package kashflow

import (
	stderrors "errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// commonItemKeys are tried, in order, before the endpoint specific keys
var commonItemKeys = []string{"Data", "data", "items", "Items"}

var metaKeys = []string{"MetaData", "metadata", "meta"}

type pageMeta struct {
	TotalRecords int    `mapstructure:"TotalRecords"`
	NextPageURL  string `mapstructure:"NextPageUrl"`
}

type topLevelTotals struct {
	Total      int `mapstructure:"total"`
	TotalCount int `mapstructure:"totalCount"`
}

// decodeLoose decodes src into dst, matching keys case-insensitively and
// converting numeric strings. Fields that fail to decode stay zero and are
// reported in the returned error.
func decodeLoose(src, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}

// normalizePage maps any of the response shapes KashFlow uses into a Page.
// A top-level array means the endpoint ignored paging. The page is always
// usable; a non-nil error lists envelope fields that could not be decoded.
func normalizePage(raw any, page, pageSize int, ep Endpoint) (*models.Page, error) {
	out := &models.Page{Page: page, PageSize: pageSize}

	switch body := raw.(type) {
	case []any:
		out.Items = toItems(body)
		out.Unpaged = true
		out.Total = len(out.Items)
		out.PageSize = len(out.Items)
		return out, nil
	case map[string]any:
		keys := append(append([]string(nil), commonItemKeys...), ep.ItemKeys...)
		for _, k := range keys {
			if list, ok := body[k].([]any); ok {
				out.Items = toItems(list)
				break
			}
		}

		var errs []error
		var meta pageMeta
		for _, k := range metaKeys {
			if m, ok := body[k].(map[string]any); ok {
				if err := decodeLoose(m, &meta); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", k, err))
				}
				break
			}
		}

		var totals topLevelTotals
		if err := decodeLoose(body, &totals); err != nil {
			errs = append(errs, fmt.Errorf("totals: %w", err))
		}

		switch {
		case meta.TotalRecords > 0:
			out.Total = meta.TotalRecords
		case totals.Total > 0:
			out.Total = totals.Total
		case totals.TotalCount > 0:
			out.Total = totals.TotalCount
		case ep.TotalFromItems:
			out.Total = len(out.Items)
		}
		out.HasNext = meta.NextPageURL != ""
		return out, stderrors.Join(errs...)
	}
	return out, nil
}

func toItems(list []any) []models.Item {
	items := make([]models.Item, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			items = append(items, models.Item(m))
		}
	}
	return items
}
