package verify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"presence/cmd/internal/apiclient"
	"presence/cmd/internal/camera"
)

const (
	verifyFacePath = "/attendance/verify-face"

	fieldFaceImage = "faceImage"
	fieldQRToken   = "qrToken"
	faceFileName   = "face.jpg"
)

// FaceRequest is one verification submission.
type FaceRequest struct {
	Image      camera.Still
	Token      string
	Credential string
}

// FaceResponse is the verifier's answer.
type FaceResponse struct {
	Verified bool `json:"verified"`
}

// Verifier submits a face image for identity verification.
type Verifier interface {
	VerifyFace(ctx context.Context, req FaceRequest) (FaceResponse, error)
}

// HTTPVerifier posts multipart submissions to the attendance backend.
type HTTPVerifier struct {
	api *apiclient.Client
}

// NewHTTPVerifier constructs an HTTPVerifier.
func NewHTTPVerifier(api *apiclient.Client) *HTTPVerifier {
	return &HTTPVerifier{api: api}
}

// VerifyFace implements Verifier.
func (v *HTTPVerifier) VerifyFace(ctx context.Context, req FaceRequest) (FaceResponse, error) {
	body, contentType, err := encodeFaceForm(req)
	if err != nil {
		return FaceResponse{}, err
	}
	defer clear(body.Bytes())

	var out FaceResponse
	err = v.api.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Path:        verifyFacePath,
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: contentType,
		Credential:  req.Credential,
	}, &out)
	if err != nil {
		return FaceResponse{}, err
	}
	return out, nil
}

func encodeFaceForm(req FaceRequest) (*bytes.Buffer, string, error) {
	body := bytes.NewBuffer(make([]byte, 0, len(req.Image.Data)+512))
	mw := multipart.NewWriter(body)

	ct := req.Image.ContentType
	if ct == "" {
		ct = camera.ContentTypeJPEG
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldFaceImage, faceFileName))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("verify: create image part: %w", err)
	}
	if _, err := part.Write(req.Image.Data); err != nil {
		return nil, "", fmt.Errorf("verify: write image part: %w", err)
	}
	if err := mw.WriteField(fieldQRToken, req.Token); err != nil {
		return nil, "", fmt.Errorf("verify: write token field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("verify: close form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}
