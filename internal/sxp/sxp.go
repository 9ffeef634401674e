// Package sxp reads and writes the XML messages exchanged with the dispatch
// authority. A message root names the action (AppointmentCreate,
// AppointmentUpdate, AppointmentDelete) and holds an <Engineer> element plus
// one element per owning object, each carrying property elements.
package sxp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

var (
	ErrMalformed      = errors.New("malformed dispatch message")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoEngineer     = errors.New("dispatch message without engineer")
)

const engineerElement = "Engineer"

var messageNames = map[types.Action]string{
	types.ActionCreate: "AppointmentCreate",
	types.ActionUpdate: "AppointmentUpdate",
	types.ActionDelete: "AppointmentDelete",
}

// node is a generic XML element
type node struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
	Nodes   []node `xml:",any"`
}

func (n *node) child(name string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *node) text() string {
	return strings.TrimSpace(n.Content)
}

// Parse demultiplexes a dispatch message into an inbound event. Property
// values are returned as the raw text of their elements; properties missing
// from the message are absent from the event.
func Parse(body []byte, s *schema.Schema) (*types.InboundEvent, error) {
	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var action types.Action
	for a, name := range messageNames {
		if name == root.XMLName.Local {
			action = a
		}
	}
	if action == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, root.XMLName.Local)
	}

	engineer := root.child(engineerElement)
	if engineer == nil || engineer.text() == "" {
		return nil, ErrNoEngineer
	}

	props := make(map[string]any)
	for _, p := range s.Properties() {
		obj := root.child(p.Object)
		if obj == nil {
			continue
		}
		el := obj.child(p.Name)
		if el == nil {
			continue
		}
		if p.XPathExtension != "" {
			if el = el.child(p.XPathExtension); el == nil {
				continue
			}
		}
		props[p.Name] = el.text()
	}

	return &types.InboundEvent{
		Action:     action,
		AssignedTo: engineer.text(),
		Properties: props,
	}, nil
}

// Ack renders the acknowledgement of one processed message
func Ack(action types.Action, success bool) []byte {
	name, ok := messageNames[action]
	if !ok {
		name = messageNames[types.ActionCreate]
	}
	status := 1
	if !success {
		status = 2
	}
	return []byte(fmt.Sprintf("<%sResult Status=\"%d\" />", name, status))
}

// EncodeUpdate renders an outbound message as an AppointmentUpdate. Fields are
// grouped by owning object in order of first appearance.
func EncodeUpdate(msg *types.OutboundMessage, s *schema.Schema) ([]byte, error) {
	var objects []string
	grouped := make(map[string][]types.WireField)
	for _, f := range msg.Fields {
		if _, ok := grouped[f.Object]; !ok {
			objects = append(objects, f.Object)
		}
		grouped[f.Object] = append(grouped[f.Object], f)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{Name: xml.Name{Local: messageNames[types.ActionUpdate]}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	if err := enc.EncodeElement(msg.EngineerID, start(engineerElement)); err != nil {
		return nil, err
	}

	for _, obj := range objects {
		if err := enc.EncodeToken(start(obj)); err != nil {
			return nil, err
		}
		for _, f := range grouped[obj] {
			if err := encodeField(enc, f, s); err != nil {
				return nil, err
			}
		}
		if err := enc.EncodeToken(start(obj).End()); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeField(enc *xml.Encoder, f types.WireField, s *schema.Schema) error {
	p, ok := s.Property(f.Name)
	if !ok || p.XPathExtension == "" {
		return enc.EncodeElement(f.Value, start(f.Name))
	}
	if err := enc.EncodeToken(start(f.Name)); err != nil {
		return err
	}
	if err := enc.EncodeElement(f.Value, start(p.XPathExtension)); err != nil {
		return err
	}
	return enc.EncodeToken(start(f.Name).End())
}

func start(name string) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}}
}
