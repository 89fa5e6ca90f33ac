package agents

import (
	"fmt"
	"os"
	"strings"

	xerrors "OpenMCP-Triage/internal/errors"

	"gopkg.in/yaml.v3"
)

// Route 是路由器可以选择的三个叶子之一。
type Route string

const (
	RouteSpanish Route = "spanish"
	RouteTool    Route = "tool"
	RouteEnglish Route = "english"
)

// Routes 按路由器 hand-off 列表的固定顺序返回全部路由，顺序不代表优先级。
func Routes() []Route {
	return []Route{RouteSpanish, RouteTool, RouteEnglish}
}

// Valid 判断路由值是否合法。
func (r Route) Valid() bool {
	switch r {
	case RouteSpanish, RouteTool, RouteEnglish:
		return true
	default:
		return false
	}
}

// Role 描述一个智能体角色，构造后不再修改。
type Role struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Route        Route    `yaml:"-"`
	ToolAccess   bool     `yaml:"-"`
	HandOffs     []string `yaml:"-"`
}

// Roles 是一组完整的角色定义：一个路由器加三个叶子。
type Roles struct {
	Router  Role `yaml:"router"`
	Spanish Role `yaml:"spanish"`
	Tool    Role `yaml:"tool"`
	English Role `yaml:"english"`
}

// DefaultRoles 返回内置的四个角色。
func DefaultRoles() Roles {
	roles := Roles{
		Router: Role{
			Name:        "triage_agent",
			Description: "Triage agent",
			Instructions: "Determine the intent of the query. If the input is in Spanish, hand off to the Spanish agent. " +
				"If the input contains a wallet address or transaction-related keywords, hand off to the BigQuery agent. " +
				"Otherwise, hand off to the English agent.",
		},
		Spanish: Role{
			Name:         "spanish_agent",
			Description:  "Spanish agent",
			Instructions: "You only respond in Spanish. Your answers should be concise and entirely in Spanish.",
			Route:        RouteSpanish,
		},
		Tool: Role{
			Name:         "bigquery_agent",
			Description:  "BigQuery agent",
			Instructions: "You handle blockchain transaction queries. When provided a wallet address, retrieve and display recent transaction details.",
			Route:        RouteTool,
			ToolAccess:   true,
		},
		English: Role{
			Name:         "english_agent",
			Description:  "English agent",
			Instructions: "You only respond in English. Your answers should be concise and entirely in English.",
			Route:        RouteEnglish,
		},
	}
	roles.link()
	return roles
}

// Leaf 返回路由对应的叶子角色。
func (r Roles) Leaf(route Route) (Role, bool) {
	switch route {
	case RouteSpanish:
		return r.Spanish, true
	case RouteTool:
		return r.Tool, true
	case RouteEnglish:
		return r.English, true
	default:
		return Role{}, false
	}
}

// Leaves 按 hand-off 顺序返回三个叶子。
func (r Roles) Leaves() []Role {
	return []Role{r.Spanish, r.Tool, r.English}
}

// RouteOf 根据智能体名称反查路由，名称未知时返回 false。
func (r Roles) RouteOf(name string) (Route, bool) {
	for _, leaf := range r.Leaves() {
		if leaf.Name == name {
			return leaf.Route, true
		}
	}
	return "", false
}

// Validate 检查名称非空且互不相同。
func (r Roles) Validate() error {
	seen := make(map[string]struct{}, 4)
	for _, role := range []Role{r.Router, r.Spanish, r.Tool, r.English} {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "角色名称不能为空")
		}
		if strings.TrimSpace(role.Instructions) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("角色 %s 缺少指令", name))
		}
		if _, dup := seen[name]; dup {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("角色名称重复: %s", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (r *Roles) link() {
	r.Router.Route = ""
	r.Router.ToolAccess = false
	r.Router.HandOffs = []string{r.Spanish.Name, r.Tool.Name, r.English.Name}
	r.Spanish.Route, r.Spanish.HandOffs = RouteSpanish, nil
	r.Tool.Route, r.Tool.ToolAccess, r.Tool.HandOffs = RouteTool, true, nil
	r.English.Route, r.English.HandOffs = RouteEnglish, nil
}

// LoadRoles 读取 YAML 文件并覆盖默认角色中非空的字段。路径为空时直接返回默认值。
func LoadRoles(path string) (Roles, error) {
	roles := DefaultRoles()
	if strings.TrimSpace(path) == "" {
		return roles, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Roles{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取角色文件失败")
	}
	var overlay Roles
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return Roles{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析角色文件失败")
	}

	merge(&roles.Router, overlay.Router)
	merge(&roles.Spanish, overlay.Spanish)
	merge(&roles.Tool, overlay.Tool)
	merge(&roles.English, overlay.English)
	roles.link()
	if err := roles.Validate(); err != nil {
		return Roles{}, err
	}
	return roles, nil
}

func merge(dst *Role, src Role) {
	if v := strings.TrimSpace(src.Name); v != "" {
		dst.Name = v
	}
	if v := strings.TrimSpace(src.Description); v != "" {
		dst.Description = v
	}
	if v := strings.TrimSpace(src.Instructions); v != "" {
		dst.Instructions = v
	}
}
