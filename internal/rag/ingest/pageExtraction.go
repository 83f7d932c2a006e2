package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dslipak/pdf"
	"github.com/lu4p/cat"

	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

type rawPage struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

func extractPDF(data []byte) ([]rawPage, error) {
	f, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Error("failed opening of pdf blob")
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []rawPage
	numPages := f.NumPage()
	logger.Debug("extractPDF", "number of pages", numPages)
	for i := 1; i <= numPages; i++ {
		page := f.Page(i)
		if page.V.IsNull() {
			logger.Debug("extractPDF", "page value is null!!")
			continue
		}

		content, err := protectExtract(page)
		if err != nil {
			// Log warning but continue with other pages
			logger.Error("Error parsing page content", "Error", err)
			continue
		}

		pages = append(pages, rawPage{
			Number:  i,
			Content: content,
		})
	}
	return pages, nil
}

// extractDocxRtfOdt handles the formats cat can read from memory.
func extractDocxRtfOdt(data []byte) ([]rawPage, error) {
	text, err := cat.FromBytes(data)
	if err != nil {
		logger.Error("Error extracting content from doc")
		return nil, fmt.Errorf("failed to extract docx: %w", err)
	}

	//this is a bit ugly with putting all content in 1 page
	//TODO :but I will need to make my own word writer to track the pages
	return []rawPage{
		{
			Number:  1,
			Content: text,
		},
	}, nil
}

func extractText(data []byte, contentType kbModel.DocType) ([]rawPage, error) {
	switch contentType {
	case kbModel.PDF:
		return extractPDF(data)
	case kbModel.DOCX:
		return extractDocxRtfOdt(data)
	case kbModel.TXT, kbModel.MD:
		return []rawPage{{Number: 1, Content: string(data)}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", kbModel.ErrUnsupportedFormat, contentType)
	}
}

func protectExtract(page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()
	select {
	case r := <-resChan:
		return r.content, r.err
	case <-time.After(time.Second * 10):
		logger.Error("pageExtract", "timeout")
		return "", errors.New("timeout")
	}
}
