package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/david/grant-discovery/internal/guidelines"
)

type analyzeResponse struct {
	Filename string `json:"filename"`
	guidelines.Analysis
}

type eligibilityResponse struct {
	Filename string `json:"filename"`
	guidelines.EligibilityAnalysis
}

func (s *Server) handleAnalyzePDF(c echo.Context) error {
	name, text, err := s.uploadedPDFText(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analyzeResponse{Filename: name, Analysis: guidelines.Analyze(text)})
}

func (s *Server) handlePDFEligibility(c echo.Context) error {
	name, text, err := s.uploadedPDFText(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, eligibilityResponse{Filename: name, EligibilityAnalysis: guidelines.AnalyzeEligibility(text)})
}

// uploadedPDFText spools the multipart "file" field to a temp file and
// extracts its text. The temp file is removed before returning.
func (s *Server) uploadedPDFText(c echo.Context) (string, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}
	if fh.Size > s.maxUploadBytes {
		return "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", s.maxUploadBytes))
	}

	src, err := fh.Open()
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "Unreadable upload")
	}
	defer src.Close()

	header := make([]byte, 5)
	if _, err := io.ReadFull(src, header); err != nil || !guidelines.IsPDF(header) {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, guidelines.ErrNotPDF.Error())
	}

	tmp, err := os.CreateTemp("", "guidelines-*.pdf")
	if err != nil {
		log.Printf("[PDF] temp file: %v", err)
		return "", "", echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(header)
	if err == nil {
		_, err = io.Copy(tmp, io.LimitReader(src, s.maxUploadBytes))
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		log.Printf("[PDF] spooling %s: %v", fh.Filename, err)
		return "", "", echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
	}

	text, err := guidelines.ExtractPDFFile(tmp.Name())
	if err != nil {
		if errors.Is(err, guidelines.ErrNotPDF) {
			return "", "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "Error processing PDF: "+err.Error())
	}
	return fh.Filename, text, nil
}
