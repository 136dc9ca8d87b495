package menu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// entry 는 순서를 유지한 JSON 객체/배열 원소입니다.
type entry struct {
	Key   string
	Value json.RawMessage
}

// orderedEntries 는 JSON 객체나 배열의 원소를 순서대로 돌려줍니다.
// 객체는 정수 키를 오름차순으로 먼저, 나머지 키는 등장 순서대로 둡니다.
// (실시간 DB 가 "0","1",... 키 객체와 배열을 섞어 돌려주기 때문)
func orderedEntries(raw json.RawMessage) ([]entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]entry, 0, len(items))
		for i, it := range items {
			if isNull(it) {
				continue
			}
			out = append(out, entry{Key: strconv.Itoa(i), Value: it})
		}
		return out, nil
	case '{':
	default:
		return nil, fmt.Errorf("expected object or array, got %.16s", raw)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, entry{Key: key, Value: v})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ni, iok := arrayIndex(out[i].Key)
		nj, jok := arrayIndex(out[j].Key)
		switch {
		case iok && jok:
			return ni < nj
		case iok:
			return true
		default:
			return false
		}
	})
	return out, nil
}

func arrayIndex(key string) (uint64, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	return n, err == nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

type rawVendor struct {
	Name      any             `json:"name"`
	RouteName any             `json:"routeName"`
	ImageURL  any             `json:"imageUrl"`
	Visible   any             `json:"visible"`
	Children  json.RawMessage `json:"children"`
}

func (v rawVendor) valid() bool {
	_, nameOK := v.Name.(string)
	_, routeOK := v.RouteName.(string)
	return nameOK && routeOK
}

func (v rawVendor) toVendor() Vendor {
	out := Vendor{
		Name:      v.Name.(string),
		RouteName: v.RouteName.(string),
	}
	if s, ok := v.ImageURL.(string); ok {
		out.ImageURL = s
	}
	if b, ok := v.Visible.(bool); ok {
		out.Visible = b
	}
	return out
}

// flattenVendors 는 client-units 응답을 vendor 목록으로 펼칩니다.
// children 이 있는 location 은 그 children 이, 없으면 location 자체가 vendor 입니다.
// name/routeName 이 문자열이 아닌 항목은 건너뛰고, 같은 routeName 은 처음 위치를 유지한 채 덮어씁니다.
func flattenVendors(raw json.RawMessage) ([]Vendor, int, error) {
	locations, err := orderedEntries(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("client units: %w", err)
	}

	var (
		order   []string
		byRoute = map[string]Vendor{}
		invalid int
	)
	add := func(rv rawVendor) {
		if !rv.valid() {
			invalid++
			return
		}
		v := rv.toVendor()
		if _, seen := byRoute[v.RouteName]; !seen {
			order = append(order, v.RouteName)
		}
		byRoute[v.RouteName] = v
	}

	for _, loc := range locations {
		var lv rawVendor
		if err := json.Unmarshal(loc.Value, &lv); err != nil {
			invalid++
			continue
		}
		if isNull(lv.Children) {
			add(lv)
			continue
		}
		children, err := orderedEntries(lv.Children)
		if err != nil {
			invalid++
			continue
		}
		for _, ch := range children {
			var cv rawVendor
			if err := json.Unmarshal(ch.Value, &cv); err != nil {
				invalid++
				continue
			}
			add(cv)
		}
	}

	out := make([]Vendor, 0, len(order))
	for _, route := range order {
		out = append(out, byRoute[route])
	}
	return out, invalid, nil
}

// excludeVendors 는 routeName 이 excluded 에 있는 vendor 를 뺍니다.
func excludeVendors(vendors []Vendor, excluded []string) []Vendor {
	if len(excluded) == 0 {
		return vendors
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, r := range excluded {
		skip[r] = struct{}{}
	}
	out := vendors[:0:0]
	for _, v := range vendors {
		if _, ok := skip[v.RouteName]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// rotateByDay 는 연중 일자(1 월 1 일 = 1)만큼 vendor 순서를 회전시켜 매일 다른 vendor 가 맨 앞에 오게 합니다.
func rotateByDay(vendors []Vendor, day time.Time) []Vendor {
	if len(vendors) == 0 {
		return vendors
	}
	offset := day.YearDay() % len(vendors)
	out := make([]Vendor, 0, len(vendors))
	out = append(out, vendors[offset:]...)
	return append(out, vendors[:offset]...)
}

type rawCategory struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Items json.RawMessage `json:"items"`
}

type rawItem struct {
	Key             string `json:"key"`
	Name            any    `json:"Name"`
	Description     any    `json:"Description"`
	DescriptionLong string `json:"DescriptionLong"`
	ImageURL        string `json:"ImageUrl"`
	Cost            any    `json:"Cost"`
	Enabled         *bool  `json:"enabled"`
}

// cost 는 Cost 가 음이 아닌 정수(øre 단위)일 때 그 값을 반환합니다.
func (it rawItem) cost() (int64, bool) {
	f, ok := it.Cost.(float64)
	if !ok || f < 0 || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func (it rawItem) valid() bool {
	_, nameOK := it.Name.(string)
	_, descOK := it.Description.(string)
	_, costOK := it.cost()
	return nameOK && descOK && costOK
}

// parseCategories 는 activeMenu/categories 응답을 카테고리 목록으로 바꿉니다.
// 비활성(enabled:false) 또는 형식이 맞지 않는 항목은 건너뜁니다.
func parseCategories(raw json.RawMessage) ([]Category, int, error) {
	entries, err := orderedEntries(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("categories: %w", err)
	}

	var invalid int
	out := make([]Category, 0, len(entries))
	for _, e := range entries {
		var rc rawCategory
		if err := json.Unmarshal(e.Value, &rc); err != nil {
			invalid++
			continue
		}
		cat := Category{Name: rc.Name, Type: rc.Type, Items: []MenuItem{}}

		items, err := orderedEntries(rc.Items)
		if err != nil {
			invalid++
			out = append(out, cat)
			continue
		}
		for _, ie := range items {
			var it rawItem
			if err := json.Unmarshal(ie.Value, &it); err != nil {
				invalid++
				continue
			}
			if it.Enabled != nil && !*it.Enabled {
				continue
			}
			if !it.valid() {
				invalid++
				continue
			}
			cents, _ := it.cost()
			id := it.Key
			if id == "" {
				id = ie.Key
			}
			cat.Items = append(cat.Items, MenuItem{
				ID:              id,
				Name:            it.Name.(string),
				Description:     it.Description.(string),
				DescriptionLong: it.DescriptionLong,
				ImageURL:        it.ImageURL,
				Price:           float64(cents) / 100,
			})
		}
		out = append(out, cat)
	}
	return out, invalid, nil
}

// parseSites 는 /clientUnits 응답의 최상위 키(사이트 id)를 순서대로 돌려줍니다.
func parseSites(raw json.RawMessage) ([]string, error) {
	entries, err := orderedEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("sites: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("sites: empty")
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out, nil
}
