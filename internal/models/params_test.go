package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemParameters_OnlyPendingFields(t *testing.T) {
	it := NewItem(PersonalLibrary(), "ABCD2345", "book")
	it.Version = 7
	it.Fields = []ItemField{{Key: "title", Value: "Old"}, {Key: "date", Value: "1965"}}
	it.SetField("title", "Dune")
	it.RecordChange(ItemChangeFields)

	params, err := it.UpdateParameters()
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"key": "ABCD2345", "version": 7, "title": "Dune"}, params)
}

func TestItemParameters_FullState(t *testing.T) {
	it := NewItem(GroupLibrary(2), "ABCD2345", "journalArticle")
	it.Fields = []ItemField{{Key: "title", Value: "Paper"}}
	it.Tags = []Tag{{Name: "read"}, {Name: "auto", Type: 1}}
	it.Creators = []Creator{{CreatorType: "author", FirstName: "Ada", LastName: "Lovelace"}, {CreatorType: "editor", Name: "ACM"}}
	it.CollectionKeys = []string{"COLL2345"}
	it.Relations = map[string][]string{"dc:relation": {"http://example.org/1"}}
	it.MarkAsChanged()

	params, err := it.UpdateParameters()
	require.NoError(t, err)

	assert.Equal(t, "journalArticle", params["itemType"])
	assert.Equal(t, "Paper", params["title"])
	assert.Equal(t, 0, params["version"])
	assert.Equal(t, []string{"COLL2345"}, params["collections"])
	assert.Equal(t, []map[string]any{{"tag": "read"}, {"tag": "auto", "type": 1}}, params["tags"])
	assert.Equal(t, []map[string]any{
		{"creatorType": "author", "firstName": "Ada", "lastName": "Lovelace"},
		{"creatorType": "editor", "name": "ACM"},
	}, params["creators"])
	assert.Equal(t, map[string]any{"dc:relation": "http://example.org/1"}, params["relations"])
	assert.NotContains(t, params, "parentItem")
	assert.NotContains(t, params, "deleted")
}

func TestItemParameters_RemovedParentSendsFalse(t *testing.T) {
	it := NewItem(PersonalLibrary(), "ABCD2345", "note")
	it.RecordChange(ItemChangeParent)

	params, err := it.UpdateParameters()
	require.NoError(t, err)
	assert.Equal(t, false, params["parentItem"])

	it.ParentKey = "PARENT23"
	params, err = it.UpdateParameters()
	require.NoError(t, err)
	assert.Equal(t, "PARENT23", params["parentItem"])
}

func TestItemParameters_HighlightPosition(t *testing.T) {
	it := NewItem(PersonalLibrary(), "ANNO2345", ItemTypeAnnotation)
	it.Fields = []ItemField{{Key: "annotationType", Value: AnnotationHighlight}}
	it.SetPosition(Position{PageIndex: 3, Rects: []Rect{{MinX: 1.23456, MinY: 2, MaxX: 3.0004, MaxY: 4.9996}}})
	it.RecordChange(ItemChangeRects)

	params, err := it.UpdateParameters()
	require.NoError(t, err)

	assert.JSONEq(t, `{"pageIndex":3,"rects":[[1.235,2,3,5]]}`, params["annotationPosition"].(string))
	assert.NotContains(t, params, FieldPageIndex)
}

func TestItemParameters_InkPosition(t *testing.T) {
	it := NewItem(PersonalLibrary(), "ANNO2345", ItemTypeAnnotation)
	it.Fields = []ItemField{{Key: "annotationType", Value: AnnotationInk}}
	it.SetPosition(Position{PageIndex: 1, LineWidth: 2.5, Paths: []Path{{{X: 1, Y: 2}, {X: 3.33333, Y: 4}}}})
	it.SetField(FieldLineWidth, "3")
	it.RecordChange(ItemChangeFields)

	params, err := it.UpdateParameters()
	require.NoError(t, err)

	assert.JSONEq(t, `{"pageIndex":1,"width":3,"paths":[[1,2,3.333,4]]}`, params["annotationPosition"].(string))
	assert.NotContains(t, params, FieldLineWidth)
}

func TestItemParameters_PositionTooLarge(t *testing.T) {
	it := NewItem(PersonalLibrary(), "ANNO2345", ItemTypeAnnotation)
	it.Fields = []ItemField{{Key: "annotationType", Value: AnnotationInk}}
	path := make(Path, 0, 10000)
	for i := 0; i < 10000; i++ {
		path = append(path, Point{X: 123.456, Y: 654.321})
	}
	it.Paths = []Path{path}
	it.RecordChange(ItemChangePaths)

	_, err := it.UpdateParameters()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPosition_RectRoundTrip(t *testing.T) {
	rects := []Rect{{MinX: 10.5, MinY: 20.25, MaxX: 30.125, MaxY: 40}, {MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}}

	encoded, err := EncodePosition(Position{PageIndex: 4, Rects: rects}, false)
	require.NoError(t, err)
	decoded, err := DecodePosition(encoded)
	require.NoError(t, err)

	assert.Equal(t, 4, decoded.PageIndex)
	assert.Equal(t, rects, decoded.Rects)
	assert.Empty(t, decoded.Paths)
}

func TestPosition_DecodeRejectsMalformed(t *testing.T) {
	_, err := DecodePosition(`{"pageIndex":0,"rects":[[1,2,3]]}`)
	assert.Error(t, err)
	_, err = DecodePosition(`{"pageIndex":0,"paths":[[1,2,3]]}`)
	assert.Error(t, err)
	_, err = DecodePosition(`not json`)
	assert.Error(t, err)
}

func TestCollectionParameters(t *testing.T) {
	c := NewCollection(PersonalLibrary(), "COLL2345", "Reading")
	c.Version = 3
	c.RecordChange(CollectionChangeName | CollectionChangeParent)

	params, err := c.UpdateParameters()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "COLL2345", "version": 3, "name": "Reading", "parentCollection": false}, params)
}

func TestSearchParameters(t *testing.T) {
	s := NewSearch(PersonalLibrary(), "SRCH2345", "Unread")
	s.Conditions = []SearchCondition{{Condition: "tag", Operator: "isNot", Value: "read"}}
	s.MarkAsChanged()

	params, err := s.UpdateParameters()
	require.NoError(t, err)
	assert.Equal(t, "Unread", params["name"])
	assert.Equal(t, []map[string]any{{"condition": "tag", "operator": "isNot", "value": "read"}}, params["conditions"])
}

func TestPageIndexParameters(t *testing.T) {
	p := NewPageIndex(PersonalLibrary(), "ATTC2345", "12")
	p.MarkAsChanged()

	params, err := p.UpdateParameters()
	require.NoError(t, err)
	data, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastPageIndex_u_ATTC2345":{"value":12}}`, string(data))

	p.Index = "epubcfi(/6/4)"
	params, err = p.UpdateParameters()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": "epubcfi(/6/4)"}, params["lastPageIndex_u_ATTC2345"])
}

func TestItem_Title(t *testing.T) {
	note := NewItem(PersonalLibrary(), "NOTE2345", ItemTypeNote)
	note.Fields = []ItemField{{Key: "note", Value: "<p>Meeting notes</p><p>more</p>"}}
	assert.Equal(t, "Meeting notes", note.Title())

	empty := NewItem(PersonalLibrary(), "EMPT2345", "book")
	assert.Equal(t, "EMPT2345", empty.Title())
	assert.True(t, strings.HasPrefix(note.Title(), "Meeting"))
}
