package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Campus Invoicing API",
        "description": "Teacher invoicing, validation workflow and account provisioning for a multi-campus school",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Auth", "description": "Login and password management"},
        {"name": "Reference", "description": "Campuses, filieres, classes and course titles"},
        {"name": "Profiles", "description": "User profiles and teacher bank details"},
        {"name": "Accounts", "description": "Account provisioning and temporary credentials"},
        {"name": "Invoices", "description": "Teacher invoices and the validation workflow"},
        {"name": "Notifications", "description": "In-app notifications"},
        {"name": "Dashboard", "description": "Role-scoped totals and monthly reports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login with email and password",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Too many attempts", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Auth"],
                "summary": "Change password and clear the must-change flag",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/campuses": {
            "get": {"tags": ["Reference"], "summary": "List campuses", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/filieres": {
            "get": {"tags": ["Reference"], "summary": "List filieres", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/classes": {
            "get": {
                "tags": ["Reference"],
                "summary": "List classes",
                "parameters": [
                    {"name": "campusId", "in": "query", "type": "string"},
                    {"name": "filiereId", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/course-titles": {
            "get": {
                "tags": ["Reference"],
                "summary": "List course titles",
                "parameters": [{"name": "filiereId", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/profiles": {
            "get": {
                "tags": ["Profiles"],
                "summary": "List profiles",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "campusId", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/profiles/{id}": {
            "get": {
                "tags": ["Profiles"],
                "summary": "Get profile",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Profiles"],
                "summary": "Update profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateProfileRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Profiles"],
                "summary": "Deactivate profile",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/profiles/{id}/bank-details": {
            "put": {
                "tags": ["Profiles"],
                "summary": "Update teacher bank details",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BankDetails"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/accounts": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Create account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAccountRequest"}}
                ],
                "responses": {
                    "200": {"description": "Already exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/import-teachers": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Import teachers from a spreadsheet export",
                "consumes": ["multipart/form-data"],
                "parameters": [{"name": "file", "in": "formData", "required": true, "type": "file"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/accounts/reset-passwords": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Issue new temporary passwords",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResetPasswordsRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/accounts/access-emails": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Queue access emails",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AccessEmailsRequest"}}
                ],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/accounts/credentials/export": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Export temporary credentials to a signed CSV link",
                "parameters": [
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/CredentialExportRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/downloads/{token}": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Download a generated export",
                "security": [],
                "produces": ["application/octet-stream"],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices": {
            "get": {
                "tags": ["Invoices"],
                "summary": "List invoices visible to the caller",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "campusId", "in": "query", "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "month", "in": "query", "type": "integer"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Invoices"],
                "summary": "Submit an invoice",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateInvoiceRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/invoices/import": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Create invoices from a session sheet",
                "consumes": ["multipart/form-data"],
                "parameters": [{"name": "file", "in": "formData", "required": true, "type": "file"}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Rejected rows", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/{id}": {
            "get": {
                "tags": ["Invoices"],
                "summary": "Get invoice with lines",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Invoices"],
                "summary": "Delete a pending invoice",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/invoices/{id}/lines": {
            "put": {
                "tags": ["Invoices"],
                "summary": "Replace the lines of a pending invoice",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReplaceLinesRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/invoices/{id}/history": {
            "get": {
                "tags": ["Invoices"],
                "summary": "Validation history",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/invoices/{id}/prevalidate": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Prevalidate (campus director)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Status changed concurrently", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/{id}/validate": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Validate (accountant)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/invoices/{id}/reject": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Reject (campus director or accountant)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/invoices/{id}/pay": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Record payment (accountant)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/PaymentRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List notifications",
                "parameters": [
                    {"name": "unread", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/notifications/unread-count": {
            "get": {"tags": ["Notifications"], "summary": "Unread count", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark one notification read",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/notifications/read-all": {
            "post": {"tags": ["Notifications"], "summary": "Mark all notifications read", "responses": {"204": {"description": "No Content"}}}
        },
        "/dashboard": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Role-scoped dashboard",
                "parameters": [
                    {"name": "month", "in": "query", "type": "integer"},
                    {"name": "year", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/reports/monthly": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Monthly invoice report",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "month", "in": "query", "required": true, "type": "integer"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/reminders/runs": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Recent reminder runs",
                "parameters": [{"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "ChangePasswordRequest": {
            "type": "object",
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string", "minLength": 8}
            },
            "required": ["old_password", "new_password"]
        },
        "UpdateProfileRequest": {
            "type": "object",
            "properties": {
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "phone": {"type": "string"},
                "role": {"type": "string", "enum": ["SUPER_ADMIN", "COMPTABLE", "DIRECTEUR_CAMPUS", "ENSEIGNANT"]},
                "campusId": {"type": "string"},
                "isNewTeacher": {"type": "boolean"},
                "active": {"type": "boolean"}
            }
        },
        "BankDetails": {
            "type": "object",
            "properties": {
                "iban": {"type": "string"},
                "bic": {"type": "string"},
                "account_holder": {"type": "string"},
                "bank_name": {"type": "string"}
            },
            "required": ["iban", "bic", "account_holder", "bank_name"]
        },
        "CreateAccountRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "phone": {"type": "string"},
                "role": {"type": "string", "enum": ["SUPER_ADMIN", "COMPTABLE", "DIRECTEUR_CAMPUS", "ENSEIGNANT"]},
                "campusId": {"type": "string"},
                "isNewTeacher": {"type": "boolean"}
            },
            "required": ["email", "firstName", "lastName", "role"]
        },
        "ResetPasswordsRequest": {
            "type": "object",
            "properties": {
                "userIds": {"type": "array", "items": {"type": "string"}},
                "scope": {"type": "string", "enum": ["new_teachers", "all_teachers", "all_users"]},
                "sendEmail": {"type": "boolean"}
            }
        },
        "AccessEmailsRequest": {
            "type": "object",
            "properties": {
                "userIds": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["userIds"]
        },
        "CredentialExportRequest": {
            "type": "object",
            "properties": {
                "onlyNew": {"type": "boolean"},
                "role": {"type": "string"},
                "campusId": {"type": "string"}
            }
        },
        "InvoiceLineInput": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "format": "date"},
                "startTime": {"type": "string", "example": "09:00"},
                "endTime": {"type": "string", "example": "12:00"},
                "courseTitle": {"type": "string"},
                "filiereId": {"type": "string"},
                "className": {"type": "string"},
                "unitPrice": {"type": "number"}
            },
            "required": ["date", "startTime", "endTime", "courseTitle", "unitPrice"]
        },
        "CreateInvoiceRequest": {
            "type": "object",
            "properties": {
                "campusId": {"type": "string"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "lines": {"type": "array", "items": {"$ref": "#/definitions/InvoiceLineInput"}}
            },
            "required": ["campusId", "month", "year", "lines"]
        },
        "ReplaceLinesRequest": {
            "type": "object",
            "properties": {
                "lines": {"type": "array", "items": {"$ref": "#/definitions/InvoiceLineInput"}}
            },
            "required": ["lines"]
        },
        "TransitionRequest": {
            "type": "object",
            "properties": {
                "comment": {"type": "string"}
            }
        },
        "PaymentRequest": {
            "type": "object",
            "properties": {
                "comment": {"type": "string"},
                "amount": {"type": "number"},
                "method": {"type": "string"},
                "reference": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
