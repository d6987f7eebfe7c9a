// Package builtin registers the gateway's internal F-Prime tools. Their
// results are placeholders until the corresponding internal services are
// connected.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/F-Prime-Capital/mcp-server/tools"
)

// AdminRole is the role required by administrative tools.
const AdminRole = "FPrime.Admin"

const defaultSearchLimit = 10

// Tools returns every built-in tool in registration order.
func Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewTool("fprime_search_projects", searchProjects,
			tools.WithDescription("Search F-Prime projects by name, status, or team")),
		tools.NewTool("fprime_get_document", getDocument,
			tools.WithDescription("Retrieve an F-Prime internal document by ID")),
		tools.NewTool("fprime_team_directory", teamDirectory,
			tools.WithDescription("Look up F-Prime team members and their contact information")),
		tools.NewTool("fprime_admin_stats", adminStats,
			tools.WithDescription("Get administrative statistics (admin only)"),
			tools.WithPermission(tools.PermissionAdmin),
			tools.WithRequiredRoles(AdminRole)),
	}
}

// Register adds the built-in tools to reg.
func Register(reg *tools.Registry) error {
	return reg.Register(Tools()...)
}

type SearchProjectsArgs struct {
	Query  string `json:"query" jsonschema:"description=Search query for project name or description"`
	Status string `json:"status,omitempty" jsonschema:"enum=active,enum=completed,enum=archived,description=Filter by project status"`
	Team   string `json:"team,omitempty" jsonschema:"description=Filter by team name"`
	Limit  int    `json:"limit,omitempty" jsonschema:"default=10,description=Maximum number of results"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Team        string `json:"team"`
	Description string `json:"description"`
}

func searchProjects(ctx context.Context, _ *auth.UserSession, args SearchProjectsArgs) (*mcp.CallToolResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return tools.Errorf("query is required"), nil
	}
	switch args.Status {
	case "", "active", "completed", "archived":
	default:
		return tools.Errorf("unknown status %q", args.Status), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results := []Project{{
		ID:          "proj-001",
		Name:        fmt.Sprintf("Sample Project matching '%s'", args.Query),
		Status:      orDefault(args.Status, "active"),
		Team:        orDefault(args.Team, "Core Team"),
		Description: "A sample project for demonstration",
	}}
	if len(results) > limit {
		results = results[:limit]
	}
	return tools.JSONResult(map[string]any{
		"query":   args.Query,
		"total":   len(results),
		"results": results,
	})
}

type GetDocumentArgs struct {
	DocumentID     string `json:"document_id" jsonschema:"description=The unique document identifier"`
	IncludeContent *bool  `json:"include_content,omitempty" jsonschema:"default=true,description=Whether to include the full document content"`
}

type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Content   string `json:"content,omitempty"`
}

func getDocument(ctx context.Context, _ *auth.UserSession, args GetDocumentArgs) (*mcp.CallToolResult, error) {
	if args.DocumentID == "" {
		return tools.Errorf("document_id is required"), nil
	}
	doc := Document{
		ID:        args.DocumentID,
		Title:     "Document " + args.DocumentID,
		Author:    "F-Prime Team",
		CreatedAt: "2024-01-15T10:00:00Z",
		UpdatedAt: "2024-01-20T14:30:00Z",
	}
	if args.IncludeContent == nil || *args.IncludeContent {
		doc.Content = fmt.Sprintf("This is the content of document %s...", args.DocumentID)
	}
	return tools.JSONResult(doc)
}

type TeamDirectoryArgs struct {
	Name       string `json:"name,omitempty" jsonschema:"description=Name to search for"`
	Department string `json:"department,omitempty" jsonschema:"description=Filter by department"`
	Role       string `json:"role,omitempty" jsonschema:"description=Filter by role"`
}

type Member struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

func teamDirectory(ctx context.Context, _ *auth.UserSession, args TeamDirectoryArgs) (*mcp.CallToolResult, error) {
	members := []Member{{
		Name:       "Jane Smith",
		Email:      "jane.smith@fprime.example.com",
		Department: orDefault(args.Department, "Engineering"),
		Role:       orDefault(args.Role, "Senior Engineer"),
	}}
	return tools.JSONResult(map[string]any{
		"query":   args,
		"total":   len(members),
		"members": members,
	})
}

type AdminStatsArgs struct {
	TimeRange string `json:"time_range,omitempty" jsonschema:"enum=day,enum=week,enum=month,enum=year,default=week"`
}

func adminStats(ctx context.Context, sess *auth.UserSession, args AdminStatsArgs) (*mcp.CallToolResult, error) {
	tr := orDefault(args.TimeRange, "week")
	switch tr {
	case "day", "week", "month", "year":
	default:
		return tools.Errorf("unknown time_range %q", args.TimeRange), nil
	}
	return tools.JSONResult(map[string]any{
		"time_range":           tr,
		"requested_by":         sess.Email,
		"active_users":         150,
		"total_requests":       5420,
		"avg_response_time_ms": 145,
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
