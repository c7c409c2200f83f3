package extract

import "encoding/json"

// pageExtractionSchema is the structured output schema for page extraction.
// Mirrors exam.PageExtraction.
var pageExtractionSchema = json.RawMessage(`{
	"name": "extract_medical_documents",
	"strict": true,
	"schema": {
		"type": "object",
		"properties": {
			"report_date": {
				"type": ["string", "null"],
				"description": "Report issue date in YYYY-MM-DD format"
			},
			"facility_name": {
				"type": ["string", "null"],
				"description": "Healthcare facility name"
			},
			"page_has_exam_data": {
				"type": ["boolean", "null"],
				"description": "True if page contains medical content. False only for blank pages or administrative headers."
			},
			"exams": {
				"type": "array",
				"description": "Medical documents extracted from this page",
				"items": {
					"type": "object",
					"properties": {
						"exam_date": {
							"type": ["string", "null"],
							"description": "Exam date in YYYY-MM-DD format"
						},
						"exam_name_raw": {
							"type": "string",
							"description": "Document title EXACTLY as shown"
						},
						"transcription": {
							"type": "string",
							"description": "Full text of the document EXACTLY as written, including all visible text"
						}
					},
					"required": ["exam_name_raw", "transcription"],
					"additionalProperties": false
				}
			}
		},
		"required": ["exams"],
		"additionalProperties": false
	}
}`)

// classificationSchema is the structured output schema for document
// classification. Mirrors exam.Classification.
var classificationSchema = json.RawMessage(`{
	"name": "classify_document",
	"strict": true,
	"schema": {
		"type": "object",
		"properties": {
			"is_exam": {
				"type": "boolean",
				"description": "True if the document contains medical exam results, clinical reports, or medical content that should be transcribed"
			},
			"exam_name_raw": {
				"type": ["string", "null"],
				"description": "Document title or exam name exactly as written"
			},
			"exam_date": {
				"type": ["string", "null"],
				"description": "Exam date in YYYY-MM-DD format"
			},
			"facility_name": {
				"type": ["string", "null"],
				"description": "Healthcare facility name"
			},
			"physician_name": {
				"type": ["string", "null"],
				"description": "Name of the physician who performed or signed the exam"
			},
			"department": {
				"type": ["string", "null"],
				"description": "Department or service within the facility"
			}
		},
		"required": ["is_exam"],
		"additionalProperties": false
	}
}`)
