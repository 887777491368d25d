package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/orchestrator"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/api"
	"github.com/BaSui01/campusflow/internal/ctxkeys"
	"github.com/BaSui01/campusflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🤖 Agent 管理 Handler
// =============================================================================

// defaultTaskListLimit 未指定 limit 时的任务列表长度
const defaultTaskListLimit = 50

// AgentService Handler 依赖的编排服务，由 *orchestrator.Orchestrator 实现
type AgentService interface {
	RegisterAgent(ctx context.Context, def agent.Definition) (*agent.Definition, error)
	SetAgentEnabled(ctx context.Context, agentID string, enabled bool) (*agent.Definition, error)
	GetAgent(agentID string) (*agent.Definition, error)
	ListAgents() []*agent.Definition
	GetAgentStats(agentID string) (*performance.Snapshot, error)
	Execute(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	GetTask(ctx context.Context, taskID string) (*persistence.Task, error)
	ListTasksByAgent(ctx context.Context, agentID string, limit int) ([]*persistence.Task, error)
	Config() orchestrator.Config
}

// AgentHandler Agent 管理与任务执行处理器
type AgentHandler struct {
	service AgentService
	logger  *zap.Logger
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(service AgentService, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		service: service,
		logger:  logger.With(zap.String("component", "agent_handler")),
	}
}

// Register 在 mux 上挂载 Agent 与任务路由
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/agents", h.HandleRegister)
	mux.HandleFunc("GET /api/v1/agents", h.HandleList)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/agents/{id}/enabled", h.HandleSetEnabled)
	mux.HandleFunc("GET /api/v1/agents/{id}/stats", h.HandleStats)
	mux.HandleFunc("POST /api/v1/agents/{id}/execute", h.HandleExecute)
	mux.HandleFunc("GET /api/v1/agents/{id}/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGetTask)
}

// =============================================================================
// 🎯 Agent 定义
// =============================================================================

// HandleRegister 注册或替换 Agent 定义
// @Summary 注册 Agent
// @Tags Agent
// @Accept json
// @Produce json
// @Param request body api.RegisterAgentRequest true "Agent 定义"
// @Success 201 {object} Response{data=api.AgentInfo}
// @Failure 400 {object} Response "定义无效"
// @Failure 500 {object} Response "持久化失败"
// @Router /api/v1/agents [post]
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.RegisterAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, err := h.service.RegisterAgent(r.Context(), req.Definition())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("agent registered", zap.String("agent_id", def.ID))
	WriteCreated(w, api.NewAgentInfo(def))
}

// HandleList 列出全部 Agent（注册顺序）
// @Summary 列出 Agent
// @Tags Agent
// @Produce json
// @Success 200 {object} Response{data=[]api.AgentInfo}
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	defs := h.service.ListAgents()
	infos := make([]api.AgentInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, api.NewAgentInfo(def))
	}
	WriteSuccess(w, infos)
}

// HandleGet 查询单个 Agent
// @Summary 查询 Agent
// @Tags Agent
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=api.AgentInfo}
// @Failure 404 {object} Response "Agent 不存在"
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.service.GetAgent(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewAgentInfo(def))
}

// HandleSetEnabled 启用或软禁用 Agent
// @Summary 启用/禁用 Agent
// @Tags Agent
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body api.SetEnabledRequest true "开关"
// @Success 200 {object} Response{data=api.AgentInfo}
// @Failure 400 {object} Response "请求无效"
// @Failure 404 {object} Response "Agent 不存在"
// @Router /api/v1/agents/{id}/enabled [put]
func (h *AgentHandler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.SetEnabledRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Enabled == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "enabled is required", h.logger)
		return
	}

	def, err := h.service.SetAgentEnabled(r.Context(), r.PathValue("id"), *req.Enabled)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("agent enabled flag changed",
		zap.String("agent_id", def.ID),
		zap.Bool("enabled", def.Enabled),
	)
	WriteSuccess(w, api.NewAgentInfo(def))
}

// HandleStats 返回 Agent 的滚动性能快照
// @Summary Agent 性能统计
// @Tags Agent
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=api.AgentStats}
// @Failure 404 {object} Response "Agent 不存在"
// @Router /api/v1/agents/{id}/stats [get]
func (h *AgentHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	snap, err := h.service.GetAgentStats(agentID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewAgentStats(agentID, snap))
}

// =============================================================================
// 🚀 任务执行
// =============================================================================

// HandleExecute 执行一次 Agent 任务
// @Summary 执行任务
// @Description 已创建任务的执行总是返回结果信封；blocked=403、failed=502、cancelled=408
// @Tags 任务
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body api.ExecuteRequest true "任务请求"
// @Success 200 {object} Response{data=orchestrator.Result}
// @Failure 400 {object} Response "输入无效"
// @Failure 403 {object} Response{data=orchestrator.Result} "被治理策略拦截"
// @Failure 404 {object} Response "Agent 不存在"
// @Failure 502 {object} Response{data=orchestrator.Result} "模型调用失败"
// @Router /api/v1/agents/{id}/execute [post]
func (h *AgentHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TaskType == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_type is required", h.logger)
		return
	}

	userID := req.UserID
	if caller, ok := ctxkeys.CallerID(r.Context()); ok {
		userID = caller
	}
	opts := h.resolveOptions(req.Options)

	result, err := h.service.Execute(r.Context(), orchestrator.Request{
		AgentID:  r.PathValue("id"),
		TaskType: req.TaskType,
		Input:    req.Input,
		UserID:   userID,
		Options:  &opts,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	WriteJSON(w, executionStatus(result), executionResponse(w, result))
}

// resolveOptions 以服务默认值为基础合并请求开关
func (h *AgentHandler) resolveOptions(in *api.ExecuteOptions) orchestrator.Options {
	opts := h.service.Config().DefaultOptions
	if in == nil {
		return opts
	}
	if in.EnableMemory != nil {
		opts.EnableMemory = *in.EnableMemory
	}
	if in.EnableGovernance != nil {
		opts.EnableGovernance = *in.EnableGovernance
	}
	if in.EnableAlignment != nil {
		opts.EnableAlignment = *in.EnableAlignment
	}
	return opts
}

func executionStatus(result *orchestrator.Result) int {
	switch result.Status {
	case persistence.TaskStatusCompleted:
		return http.StatusOK
	case persistence.TaskStatusBlocked:
		return http.StatusForbidden
	case persistence.TaskStatusCancelled:
		return http.StatusRequestTimeout
	case persistence.TaskStatusFailed:
		if result.ErrorKind == types.ErrModelInvocation {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func executionResponse(w http.ResponseWriter, result *orchestrator.Result) Response {
	var errInfo *ErrorInfo
	if !result.Success {
		code := result.ErrorKind
		if code == "" {
			code = types.ErrInternalError
		}
		errInfo = &ErrorInfo{
			Code:       string(code),
			Message:    result.Error,
			Retryable:  code == types.ErrModelInvocation,
			HTTPStatus: executionStatus(result),
		}
	}
	return envelope(w, result.Success, result, errInfo)
}

// =============================================================================
// 📋 任务查询
// =============================================================================

// HandleListTasks 列出 Agent 最近的任务
// @Summary Agent 任务列表
// @Tags 任务
// @Produce json
// @Param id path string true "Agent ID"
// @Param limit query int false "条数上限" default(50)
// @Success 200 {object} Response{data=api.TaskList}
// @Failure 400 {object} Response "limit 无效"
// @Failure 404 {object} Response "Agent 不存在"
// @Router /api/v1/agents/{id}/tasks [get]
func (h *AgentHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	tasks, err := h.service.ListTasksByAgent(r.Context(), agentID, limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	list := api.TaskList{AgentID: agentID, Tasks: make([]api.TaskInfo, 0, len(tasks))}
	for _, t := range tasks {
		list.Tasks = append(list.Tasks, api.NewTaskInfo(t))
	}
	list.Count = len(list.Tasks)
	WriteSuccess(w, list)
}

// HandleGetTask 查询单个任务记录
// @Summary 查询任务
// @Tags 任务
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=api.TaskInfo}
// @Failure 404 {object} Response "任务不存在"
// @Router /api/v1/tasks/{id} [get]
func (h *AgentHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewTaskInfo(task))
}
