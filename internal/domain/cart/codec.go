package cart

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

var errNotArray = errors.New("snapshot is not a JSON array")

// EncodeLines serializes lines as a JSON array of
// {productId, qty, unitPrice, packSizeKg?, product?}.
func EncodeLines(lines []Line) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("qty")
		e.Int(l.Qty)
		e.FieldStart("unitPrice")
		e.Raw([]byte(l.UnitPrice.String()))
		if l.HasPackSize() {
			e.FieldStart("packSizeKg")
			e.Raw([]byte(l.PackSizeKg.String()))
		}
		if len(l.Product) > 0 {
			e.FieldStart("product")
			e.Raw(l.Product)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

// DecodeLines parses a persisted cart. Elements that are not objects or lack
// a product id are dropped, quantities are clamped and duplicate product ids
// are folded into one line. A non-array or malformed document is an error.
func DecodeLines(data []byte) ([]Line, error) {
	var lines []Line
	index := make(map[string]int)

	err := decodeArray(data, func(d *jx.Decoder) error {
		l, ok, err := decodeLine(d)
		if err != nil || !ok {
			return err
		}
		if i, dup := index[l.ProductID]; dup {
			lines[i].Qty = ClampQty(lines[i].Qty + l.Qty)
			if !lines[i].HasPackSize() {
				lines[i].PackSizeKg = l.PackSizeKg
			}
			return nil
		}
		index[l.ProductID] = len(lines)
		lines = append(lines, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func decodeLine(d *jx.Decoder) (Line, bool, error) {
	if d.Next() != jx.Object {
		return Line{}, false, d.Skip()
	}

	l := Line{Qty: MinQty}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId", "id":
			id, err := decodeID(d)
			if err != nil {
				return err
			}
			l.ProductID = id
		case "qty", "quantity":
			n, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			l.Qty = int(n.IntPart())
		case "unitPrice", "price":
			n, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			l.UnitPrice = n
		case "packSizeKg":
			n, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			if n.IsPositive() {
				l.PackSizeKg = n
			}
		case "product":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			l.Product = slices.Clone(raw)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Line{}, false, err
	}
	if l.ProductID == "" {
		return Line{}, false, nil
	}

	l.Qty = ClampQty(l.Qty)
	if l.UnitPrice.IsNegative() {
		l.UnitPrice = decimal.Zero
	}
	return l, true, nil
}

// EncodeWishlist serializes entries as a JSON array of {productId, product?}.
func EncodeWishlist(entries []WishlistEntry) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, w := range entries {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(w.ProductID)
		if len(w.Product) > 0 {
			e.FieldStart("product")
			e.Raw(w.Product)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

// DecodeWishlist parses a persisted wishlist with the same tolerance rules
// as DecodeLines.
func DecodeWishlist(data []byte) ([]WishlistEntry, error) {
	var entries []WishlistEntry
	seen := make(map[string]struct{})

	err := decodeArray(data, func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		var w WishlistEntry
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "productId", "id":
				id, err := decodeID(d)
				w.ProductID = id
				return err
			case "product":
				raw, err := d.Raw()
				w.Product = slices.Clone(raw)
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if _, dup := seen[w.ProductID]; w.ProductID == "" || dup {
			return nil
		}
		seen[w.ProductID] = struct{}{}
		entries = append(entries, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func decodeArray(data []byte, elem func(d *jx.Decoder) error) error {
	if len(data) == 0 {
		return nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Array {
		return errNotArray
	}
	if err := d.Arr(elem); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}
	return nil
}

func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return n.String(), err
	default:
		return "", d.Skip()
	}
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = n.String()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	default:
		return decimal.Zero, d.Skip()
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, nil
	}
	return v, nil
}

// Snapshot renders the display fields of p carried on cart and wishlist
// entries.
func Snapshot(p product.Product) jx.Raw {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Raw([]byte(p.Price.String()))
	e.FieldStart("category")
	e.Str(p.Category)
	if len(p.PackSizesKg) > 0 {
		e.FieldStart("packSizesKg")
		e.ArrStart()
		for _, s := range p.PackSizesKg {
			e.Raw([]byte(s.String()))
		}
		e.ArrEnd()
	}
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(p.Image.Thumbnail)
	e.FieldStart("mobile")
	e.Str(p.Image.Mobile)
	e.FieldStart("tablet")
	e.Str(p.Image.Tablet)
	e.FieldStart("desktop")
	e.Str(p.Image.Desktop)
	e.ObjEnd()
	e.ObjEnd()
	return jx.Raw(e.Bytes())
}
