package bridge

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/session"
)

// Status is the wire view of a session.
type Status struct {
	Handle          string
	State           session.State
	SourcePath      string
	StagingDir      string
	Preview         string
	PriorRecognized bool
	ExitCode        *int
	Error           string
}

// encodeBlob renders a blob as base64 of its protobuf wire encoding.
func encodeBlob(b *adjustment.Blob) (string, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeBlob(s string) (*adjustment.Blob, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adjustment.ErrMalformedBlob, err)
	}
	var b adjustment.Blob
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &b, nil
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func handleMessage(handle string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldHandle: structpb.NewStringValue(handle),
	}}
}

func beginMessage(input session.Input, prior *adjustment.Blob) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		fieldSourcePath: structpb.NewStringValue(input.SourcePath),
	}
	if input.OutputPath != "" {
		fields[fieldOutputPath] = structpb.NewStringValue(input.OutputPath)
	}
	if input.Token != "" {
		fields[fieldToken] = structpb.NewStringValue(input.Token)
	}
	if prior != nil {
		enc, err := encodeBlob(prior)
		if err != nil {
			return nil, err
		}
		fields[fieldAdjustment] = structpb.NewStringValue(enc)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func parseBegin(msg *structpb.Struct) (session.Input, *adjustment.Blob, error) {
	input := session.Input{
		SourcePath: stringField(msg, fieldSourcePath),
		OutputPath: stringField(msg, fieldOutputPath),
		Token:      stringField(msg, fieldToken),
	}

	var prior *adjustment.Blob
	if enc := stringField(msg, fieldAdjustment); enc != "" {
		b, err := decodeBlob(enc)
		if err != nil {
			return session.Input{}, nil, err
		}
		prior = b
	}
	return input, prior, nil
}

func resultMessage(res session.Result) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		fieldHandle:   structpb.NewStringValue(res.Handle),
		fieldArtifact: structpb.NewStringValue(res.ArtifactPath),
	}
	if res.Token != "" {
		fields[fieldToken] = structpb.NewStringValue(res.Token)
	}
	if res.Adjustment != nil {
		enc, err := encodeBlob(res.Adjustment)
		if err != nil {
			return nil, err
		}
		fields[fieldAdjustment] = structpb.NewStringValue(enc)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func parseResult(msg *structpb.Struct) (session.Result, error) {
	res := session.Result{
		Handle:       stringField(msg, fieldHandle),
		ArtifactPath: stringField(msg, fieldArtifact),
		Token:        stringField(msg, fieldToken),
	}
	if enc := stringField(msg, fieldAdjustment); enc != "" {
		b, err := decodeBlob(enc)
		if err != nil {
			return session.Result{}, err
		}
		res.Adjustment = b
	}
	return res, nil
}

func statusMessage(info session.Info) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldHandle:     structpb.NewStringValue(info.Handle),
		fieldState:      structpb.NewStringValue(info.State.String()),
		fieldSourcePath: structpb.NewStringValue(info.SourcePath),
		fieldRecognized: structpb.NewBoolValue(info.PriorRecognized),
	}
	if info.StagingDir != "" {
		fields[fieldStagingDir] = structpb.NewStringValue(info.StagingDir)
	}
	if info.Preview != "" {
		fields[fieldPreview] = structpb.NewStringValue(info.Preview)
	}
	if info.ExitCode != nil {
		fields[fieldExitCode] = structpb.NewNumberValue(float64(*info.ExitCode))
	}
	if info.Err != nil {
		fields[fieldError] = structpb.NewStringValue(info.Err.Error())
	}
	return &structpb.Struct{Fields: fields}
}

func parseStatus(msg *structpb.Struct) (Status, error) {
	state, err := session.ParseState(stringField(msg, fieldState))
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Handle:          stringField(msg, fieldHandle),
		State:           state,
		SourcePath:      stringField(msg, fieldSourcePath),
		StagingDir:      stringField(msg, fieldStagingDir),
		Preview:         stringField(msg, fieldPreview),
		PriorRecognized: msg.GetFields()[fieldRecognized].GetBoolValue(),
		Error:           stringField(msg, fieldError),
	}
	if v, ok := msg.GetFields()[fieldExitCode]; ok {
		code := int(v.GetNumberValue())
		st.ExitCode = &code
	}
	return st, nil
}
